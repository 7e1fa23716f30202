package runner

import (
	"errors"
	"time"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// Status summarizes a batch or mode
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// ErrNotRun is recorded on batches skipped because their mode aborted
var ErrNotRun = errors.New("batch not run: mode aborted")

// BatchResult holds what one run request produced
type BatchResult struct {
	Batch    types.Batch
	Outcomes []types.TestOutcome // In delivery order, as collected for this request
	IssuedAt time.Time
	Duration time.Duration
	Aborted  bool // Engine flagged the run as aborted
	Err      error

	// PossiblyCoalesced is set when the outcomes of this batch cannot be reliably attributed,
	// either because it was issued within the debounce window of another async request or
	// because the collected outcomes do not match the submitted tests.
	PossiblyCoalesced bool
	CoalescedWith     []int    // Indexes of the batches it may have been merged with
	ForeignOutcomes   []string // Collected outcome ids that were not submitted with this batch
	MissingTests      []string // Submitted test ids with no collected outcome
}

// Stats counts outcomes by kind
type Stats struct {
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	NotFound int
	Errored  int
}

func (s *Stats) add(o types.TestOutcome) {
	s.Total++
	switch o.Outcome {
	case types.OutcomePassed:
		s.Passed++
	case types.OutcomeFailed:
		s.Failed++
	case types.OutcomeSkipped:
		s.Skipped++
	case types.OutcomeNotFound:
		s.NotFound++
	case types.OutcomeError:
		s.Errored++
	}
}

// Failures returns the number of outcomes that count as failures
func (s Stats) Failures() int {
	return s.Failed + s.NotFound + s.Errored
}

// Stats counts the outcomes of the batch
func (b *BatchResult) Stats() Stats {
	var s Stats
	for _, o := range b.Outcomes {
		s.add(o)
	}
	return s
}

// Status derives the batch status from its error and outcomes
func (b *BatchResult) Status() Status {
	if b.Err != nil {
		return StatusError
	}
	if b.Stats().Failures() > 0 {
		return StatusFail
	}
	return StatusPass
}

// CoalescedGroup is a set of async batches that may have been merged by the engine
type CoalescedGroup struct {
	Batches   []int    `json:"batches"`           // Batch indexes in the group
	Submitted int      `json:"submitted"`         // Distinct test ids submitted across the group
	Received  int      `json:"received"`          // Distinct submitted ids with an outcome in any of the group's collectors
	Missing   []string `json:"missing,omitempty"` // Submitted ids with no outcome in any of the group's collectors
}

// Complete reports whether the group's collectors together hold an outcome for every submitted test
func (g CoalescedGroup) Complete() bool {
	return len(g.Missing) == 0
}

// ModeResult holds the outcome of running every batch in one mode
type ModeResult struct {
	RunID     string
	Mode      Mode
	Batches   []*BatchResult
	Groups    []CoalescedGroup // Only populated for async runs with flagged batches
	StartTime time.Time
	Duration  time.Duration
	Err       error
}

// TotalOutcomes returns the number of outcomes collected across all batches
func (r *ModeResult) TotalOutcomes() int {
	total := 0
	for _, b := range r.Batches {
		total += len(b.Outcomes)
	}
	return total
}

// TotalSubmitted returns the number of tests submitted across all batches
func (r *ModeResult) TotalSubmitted() int {
	total := 0
	for _, b := range r.Batches {
		total += b.Batch.Len()
	}
	return total
}

// Stats counts the outcomes across all batches
func (r *ModeResult) Stats() Stats {
	var s Stats
	for _, b := range r.Batches {
		for _, o := range b.Outcomes {
			s.add(o)
		}
	}
	return s
}

// Ambiguous reports whether any batch is flagged as possibly coalesced
func (r *ModeResult) Ambiguous() bool {
	for _, b := range r.Batches {
		if b.PossiblyCoalesced {
			return true
		}
	}
	return false
}

// Status derives the mode status. Ambiguity alone does not fail a mode.
func (r *ModeResult) Status() Status {
	if r.Err != nil {
		return StatusError
	}
	status := StatusPass
	for _, b := range r.Batches {
		switch b.Status() {
		case StatusError:
			return StatusError
		case StatusFail:
			status = StatusFail
		}
	}
	return status
}

func newModeResult(runID string, mode Mode, batches []types.Batch) *ModeResult {
	res := &ModeResult{
		RunID:     runID,
		Mode:      mode,
		Batches:   make([]*BatchResult, len(batches)),
		StartTime: time.Now(),
	}
	for i, b := range batches {
		res.Batches[i] = &BatchResult{Batch: b}
	}
	return res
}
