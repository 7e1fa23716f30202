package runner

import (
	"errors"
	"sync"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

var _ engine.ResultSink = (*RunCollector)(nil)

// ErrCollectorInUse is returned when a collector is checked out by an in-flight run request
var ErrCollectorInUse = errors.New("collector is in use by an in-flight run request")

// RunCollector accumulates the outcomes delivered to one run request, in delivery order.
// Outcomes are not deduplicated. A collector is reused only after Reset, and only one
// in-flight request may hold it at a time (see Acquire).
type RunCollector struct {
	mu         sync.Mutex
	results    []types.TestOutcome
	completed  bool
	completion engine.RunComplete
	inUse      bool
}

// NewRunCollector creates an empty collector
func NewRunCollector() *RunCollector {
	return &RunCollector{}
}

// HandleStatsChanged implements engine.ResultSink
func (c *RunCollector) HandleStatsChanged(results []types.TestOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, results...)
	return nil
}

// HandleRunComplete implements engine.ResultSink
func (c *RunCollector) HandleRunComplete(info engine.RunComplete) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = true
	c.completion = info
	return nil
}

// Results returns a copy of the outcomes in delivery order
func (c *RunCollector) Results() []types.TestOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.TestOutcome, len(c.results))
	copy(out, c.results)
	return out
}

// Len returns the number of outcomes collected
func (c *RunCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// Completed reports whether the terminal notification arrived, and its contents
func (c *RunCollector) Completed() (bool, engine.RunComplete) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed, c.completion
}

// Reset clears the collector for reuse. It fails while a request holds the collector.
func (c *RunCollector) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse {
		return ErrCollectorInUse
	}
	c.results = nil
	c.completed = false
	c.completion = engine.RunComplete{}
	return nil
}

// Acquire checks the collector out for one run request
func (c *RunCollector) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse {
		return ErrCollectorInUse
	}
	c.inUse = true
	return nil
}

// Release returns the collector after its request has terminated
func (c *RunCollector) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = false
}
