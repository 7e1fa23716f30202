// Package partition splits a frozen test inventory into batches.
//
// Splitting strategies are expressed as a Policy so new strategies can be added and
// tested in isolation. Halves is the default.
package partition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

const (
	PolicyHalves     = "halves"
	PolicySingleTail = "single-tail"
	PolicyChunks     = "chunks"
	PolicyRoundRobin = "round-robin"
	PolicyComposite  = "composite"

	DefaultPolicy = PolicyHalves
)

// ErrNotFrozen is returned when partitioning an inventory that can still grow
var ErrNotFrozen = errors.New("inventory must be frozen before partitioning")

// Policy decides how an ordered list of tests is split into batches.
// Implementations must not modify the input slice.
type Policy interface {
	Name() string
	Partition(tests []types.TestCase) []types.Batch
}

// PolicyFunc adapts a function to the Policy interface
type PolicyFunc struct {
	PolicyName string
	Fn         func(tests []types.TestCase) []types.Batch
}

// Name implements Policy
func (f PolicyFunc) Name() string {
	return f.PolicyName
}

// Partition implements Policy
func (f PolicyFunc) Partition(tests []types.TestCase) []types.Batch {
	return f.Fn(tests)
}

// Partition applies policy to a frozen inventory. Returned batches are indexed 0..k-1.
func Partition(inv *types.TestInventory, policy Policy) ([]types.Batch, error) {
	if inv == nil {
		return nil, errors.New("inventory cannot be nil")
	}
	if !inv.Frozen() {
		return nil, ErrNotFrozen
	}
	if policy == nil {
		policy = Halves()
	}
	batches := policy.Partition(inv.Tests())
	for i := range batches {
		batches[i].Index = i
		if batches[i].Tests == nil {
			batches[i].Tests = []types.TestCase{}
		}
	}
	return batches, nil
}

// Halves splits the tests into two contiguous batches at floor(n/2).
// With one test the first batch is empty and the second holds the test.
func Halves() Policy {
	return PolicyFunc{PolicyName: PolicyHalves, Fn: func(tests []types.TestCase) []types.Batch {
		half := len(tests) / 2
		return []types.Batch{
			{Tests: clone(tests[:half])},
			{Tests: clone(tests[half:])},
		}
	}}
}

// SingleTail returns one batch holding the single test at offset, or an empty batch
// when offset is out of range.
func SingleTail(offset int) Policy {
	return PolicyFunc{PolicyName: fmt.Sprintf("%s(%d)", PolicySingleTail, offset), Fn: func(tests []types.TestCase) []types.Batch {
		if offset < 0 || offset >= len(tests) {
			return []types.Batch{{Tests: []types.TestCase{}}}
		}
		return []types.Batch{{Tests: clone(tests[offset : offset+1])}}
	}}
}

// Chunks splits the tests into n contiguous batches whose sizes differ by at most one.
// Earlier batches receive the extra tests.
func Chunks(n int) Policy {
	if n < 1 {
		n = 1
	}
	return PolicyFunc{PolicyName: fmt.Sprintf("%s(%d)", PolicyChunks, n), Fn: func(tests []types.TestCase) []types.Batch {
		batches := make([]types.Batch, n)
		size, extra := len(tests)/n, len(tests)%n
		start := 0
		for i := range batches {
			end := start + size
			if i < extra {
				end++
			}
			batches[i].Tests = clone(tests[start:end])
			start = end
		}
		return batches
	}}
}

// RoundRobin deals the tests into n batches in turn
func RoundRobin(n int) Policy {
	if n < 1 {
		n = 1
	}
	return PolicyFunc{PolicyName: fmt.Sprintf("%s(%d)", PolicyRoundRobin, n), Fn: func(tests []types.TestCase) []types.Batch {
		batches := make([]types.Batch, n)
		for i := range batches {
			batches[i].Tests = make([]types.TestCase, 0, len(tests)/n+1)
		}
		for i, tc := range tests {
			batches[i%n].Tests = append(batches[i%n].Tests, tc)
		}
		return batches
	}}
}

// Composite concatenates the batches produced by each policy over the same tests.
// Composite(Halves(), SingleTail(k)) builds two halves plus a third single-test batch.
func Composite(policies ...Policy) Policy {
	names := make([]string, len(policies))
	for i, p := range policies {
		names[i] = p.Name()
	}
	return PolicyFunc{PolicyName: PolicyComposite + "(" + strings.Join(names, ",") + ")", Fn: func(tests []types.TestCase) []types.Batch {
		var batches []types.Batch
		for _, p := range policies {
			batches = append(batches, p.Partition(tests)...)
		}
		return batches
	}}
}

// Params holds the parameters of the named built-in policies
type Params struct {
	Batches int
	Offset  int
}

// ByName resolves a built-in policy
func ByName(name string, params Params) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyHalves:
		return Halves(), nil
	case PolicySingleTail:
		return SingleTail(params.Offset), nil
	case PolicyChunks:
		if params.Batches < 1 {
			return nil, fmt.Errorf("policy %s requires at least one batch, got %d", PolicyChunks, params.Batches)
		}
		return Chunks(params.Batches), nil
	case PolicyRoundRobin:
		if params.Batches < 1 {
			return nil, fmt.Errorf("policy %s requires at least one batch, got %d", PolicyRoundRobin, params.Batches)
		}
		return RoundRobin(params.Batches), nil
	default:
		return nil, fmt.Errorf("unknown partition policy %q", name)
	}
}

func clone(tests []types.TestCase) []types.TestCase {
	out := make([]types.TestCase, len(tests))
	copy(out, tests)
	return out
}
