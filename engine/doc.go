// Package engine provides the client side of a session with an external test-execution engine.
//
// The engine is reached over a single long-lived JSON-RPC connection (unix socket, websocket or
// in-process). Discovery and test runs are issued as subscriptions on that connection and the
// engine streams notifications back until it sends a terminal "complete" event:
//   - Client.Discover blocks until discovery completes and feeds a DiscoverySink
//   - Client.RunSync blocks until a run completes and feeds a ResultSink
//   - Client.RunAsync returns a RunHandle immediately; the handle completes with the run
//
// Engines are known to merge run requests that arrive within a short debounce window into one
// physical run. When that happens results may be delivered to the sink of either request. The
// client does not try to hide this; callers that issue runs back-to-back must check attribution.
package engine
