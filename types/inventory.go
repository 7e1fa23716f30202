package types

import (
	"errors"
	"sync"
)

// ErrInventoryFrozen is returned when tests are added to an inventory after Freeze
var ErrInventoryFrozen = errors.New("inventory is frozen")

// TestInventory is the ordered set of tests found by discovery.
// Order is arrival order. The inventory grows until Freeze is called and is read-only afterwards.
type TestInventory struct {
	mu      sync.RWMutex
	tests   []TestCase
	index   map[string]int
	dedupe  bool
	dropped int
	frozen  bool
}

// NewTestInventory creates an empty inventory. With dedupe enabled a test id
// delivered more than once is kept only at its first position.
func NewTestInventory(dedupe bool) *TestInventory {
	return &TestInventory{
		index:  make(map[string]int),
		dedupe: dedupe,
	}
}

// NewFrozenInventory builds a frozen, deduplicated inventory from tests
func NewFrozenInventory(tests []TestCase) *TestInventory {
	inv := NewTestInventory(true)
	_ = inv.Add(tests...)
	inv.Freeze()
	return inv
}

// Add appends tests in order
func (inv *TestInventory) Add(tests ...TestCase) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.frozen {
		return ErrInventoryFrozen
	}
	for _, tc := range tests {
		if inv.dedupe {
			if _, exists := inv.index[tc.ID]; exists {
				inv.dropped++
				continue
			}
		}
		if _, exists := inv.index[tc.ID]; !exists {
			inv.index[tc.ID] = len(inv.tests)
		}
		inv.tests = append(inv.tests, tc)
	}
	return nil
}

// Freeze marks the inventory as immutable. Freezing twice is a no-op.
func (inv *TestInventory) Freeze() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.frozen = true
}

// Frozen reports whether Freeze has been called
func (inv *TestInventory) Frozen() bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.frozen
}

// Len returns the number of tests held
func (inv *TestInventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.tests)
}

// DuplicatesDropped returns how many repeated ids were collapsed
func (inv *TestInventory) DuplicatesDropped() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.dropped
}

// Tests returns a copy of the tests in arrival order
func (inv *TestInventory) Tests() []TestCase {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]TestCase, len(inv.tests))
	copy(out, inv.tests)
	return out
}

// IDs returns the test ids in arrival order
func (inv *TestInventory) IDs() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	ids := make([]string, len(inv.tests))
	for i, tc := range inv.tests {
		ids[i] = tc.ID
	}
	return ids
}

// Get returns the test with the given id
func (inv *TestInventory) Get(id string) (TestCase, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	i, ok := inv.index[id]
	if !ok {
		return TestCase{}, false
	}
	return inv.tests[i], true
}

// Contains reports whether a test with the given id is present
func (inv *TestInventory) Contains(id string) bool {
	_, ok := inv.Get(id)
	return ok
}

// Slice returns a copy of the tests in [start, end), clamped to the inventory bounds
func (inv *TestInventory) Slice(start, end int) []TestCase {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	start = max(0, min(start, len(inv.tests)))
	end = max(start, min(end, len(inv.tests)))
	out := make([]TestCase, end-start)
	copy(out, inv.tests[start:end])
	return out
}
