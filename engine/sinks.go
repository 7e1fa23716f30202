package engine

import "github.com/ethereum-optimism/infra/op-testsplit/types"

// DiscoverySink receives discovery notifications for one discovery request.
// Returning an error aborts the discovery call with that error.
type DiscoverySink interface {
	HandleDiscoveredTests(tests []types.TestCase) error
	HandleDiscoveryComplete(totalTests int64, lastChunk []types.TestCase, aborted bool) error
}

// ResultSink receives result notifications for one run request.
// Calls for a single request are never concurrent.
type ResultSink interface {
	HandleStatsChanged(results []types.TestOutcome) error
	HandleRunComplete(info RunComplete) error
}

// LogSink receives the engine's diagnostic log messages
type LogSink interface {
	HandleLogMessage(level string, message string)
}
