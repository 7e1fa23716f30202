// Package runner drives discovery and partitioned execution against a test-execution engine.
//
// The main components are:
//   - DiscoveryCollector: accumulates discovered tests into a TestInventory and freezes it on completion
//   - RunCollector: accumulates the outcomes streamed for one run request
//   - Orchestrator: runs batches in sequential, parallel or async mode and aggregates the results
//
// In async mode the engine may merge run requests issued close together into one physical run
// and deliver the merged results to a single request. The Orchestrator does not hide this:
// batches whose results cannot be reliably attributed are flagged as PossiblyCoalesced.
package runner
