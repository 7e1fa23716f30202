package engine

import (
	"time"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// EventKind identifies the type of a streamed notification
type EventKind string

const (
	EventDiscovered   EventKind = "discovered"
	EventStatsChanged EventKind = "statsChanged"
	EventLog          EventKind = "log"
	EventComplete     EventKind = "complete"
)

// Log levels used by log notifications
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// EngineInfo is returned by the handshake
type EngineInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// DiscoverRequest is the payload of a discover subscription
type DiscoverRequest struct {
	Sources  []string `json:"sources"`
	Settings string   `json:"settings"`
}

// RunTestsRequest is the payload of a runTests subscription
type RunTestsRequest struct {
	RequestID string           `json:"requestId"`
	Tests     []types.TestCase `json:"tests"`
	Settings  string           `json:"settings"`
}

// DiscoveryEvent is a single discovery notification.
// A complete event carries the last chunk of tests, which may be empty.
type DiscoveryEvent struct {
	Kind       EventKind        `json:"kind"`
	Tests      []types.TestCase `json:"tests,omitempty"`
	TotalTests int64            `json:"totalTests,omitempty"`
	Aborted    bool             `json:"aborted,omitempty"`
	Level      string           `json:"level,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// RunEvent is a single run notification.
// A complete event may carry a final chunk of results.
type RunEvent struct {
	Kind      EventKind           `json:"kind"`
	RequestID string              `json:"requestId,omitempty"`
	Results   []types.TestOutcome `json:"results,omitempty"`
	Aborted   bool                `json:"aborted,omitempty"`
	Elapsed   time.Duration       `json:"elapsed,omitempty"`
	Level     string              `json:"level,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// RunComplete describes the terminal signal of a run
type RunComplete struct {
	RequestID string
	Aborted   bool
	Elapsed   time.Duration
}
