package runner

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

var _ engine.DiscoverySink = (*DiscoveryCollector)(nil)

// ErrDiscoveryIncomplete is returned when the inventory is requested before the terminal notification
var ErrDiscoveryIncomplete = errors.New("discovery has not completed")

// DiscoveryCollector builds a TestInventory from discovery notifications.
// Notifications that arrive after the terminal one are rejected with a *engine.SequenceError
// and recorded; the inventory is never modified after completion.
type DiscoveryCollector struct {
	log log.Logger

	mu         sync.Mutex
	inv        *types.TestInventory
	chunks     int
	total      int64
	complete   bool
	aborted    bool
	violations []error
}

// NewDiscoveryCollector creates a collector. See types.NewTestInventory for dedupe.
func NewDiscoveryCollector(dedupe bool, lg log.Logger) *DiscoveryCollector {
	if lg == nil {
		lg = log.Root()
	}
	return &DiscoveryCollector{
		log: lg.New("component", "discovery-collector"),
		inv: types.NewTestInventory(dedupe),
	}
}

// HandleDiscoveredTests implements engine.DiscoverySink
func (c *DiscoveryCollector) HandleDiscoveredTests(tests []types.TestCase) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.complete {
		return c.violation(fmt.Sprintf("%d tests delivered after the terminal notification", len(tests)))
	}
	c.chunks++
	return c.inv.Add(tests...)
}

// HandleDiscoveryComplete implements engine.DiscoverySink
func (c *DiscoveryCollector) HandleDiscoveryComplete(total int64, lastChunk []types.TestCase, aborted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.complete {
		return c.violation("second terminal notification")
	}
	if len(lastChunk) > 0 {
		c.chunks++
		if err := c.inv.Add(lastChunk...); err != nil {
			return err
		}
	}
	c.complete = true
	c.aborted = aborted
	c.total = total
	c.inv.Freeze()

	if dropped := c.inv.DuplicatesDropped(); dropped > 0 {
		c.log.Warn("Engine reported duplicate test ids", "duplicates", dropped, "unique", c.inv.Len())
	}
	if aborted {
		c.log.Warn("Engine aborted discovery", "tests", c.inv.Len())
	}
	c.log.Debug("Discovery collected", "tests", c.inv.Len(), "reported", total, "chunks", c.chunks)
	return nil
}

// violation records and returns a sequence error. Caller must hold c.mu.
func (c *DiscoveryCollector) violation(reason string) error {
	err := &engine.SequenceError{Op: "discover", Reason: reason}
	c.violations = append(c.violations, err)
	c.log.Error("Discovery notification out of sequence", "reason", reason)
	return err
}

// Complete reports whether the terminal notification has arrived
func (c *DiscoveryCollector) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}

// Aborted reports whether the engine flagged discovery as aborted
func (c *DiscoveryCollector) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// TotalReported returns the test count announced by the engine in the terminal notification.
// It can differ from the inventory size when duplicates were collapsed.
func (c *DiscoveryCollector) TotalReported() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Chunks returns how many non-empty notifications delivered tests
func (c *DiscoveryCollector) Chunks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks
}

// Inventory returns the frozen inventory. Any sequence violations seen after completion are
// returned alongside it.
func (c *DiscoveryCollector) Inventory() (*types.TestInventory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.complete {
		return nil, ErrDiscoveryIncomplete
	}
	return c.inv, errors.Join(c.violations...)
}
