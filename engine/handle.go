package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RunHandle tracks one outstanding run request
type RunHandle struct {
	RequestID  string
	BatchIndex int
	IssuedAt   time.Time

	mu          sync.Mutex
	sink        ResultSink
	detached    bool
	completed   RunComplete
	completedAt time.Time
	err         error

	done      chan struct{}
	abandoned chan struct{}
	doneOnce  sync.Once
	abandon   sync.Once
}

func newRunHandle(requestID string, batchIndex int, issuedAt time.Time, sink ResultSink) *RunHandle {
	return &RunHandle{
		RequestID:  requestID,
		BatchIndex: batchIndex,
		IssuedAt:   issuedAt,
		sink:       sink,
		done:       make(chan struct{}),
		abandoned:  make(chan struct{}),
	}
}

// Done is closed when the run has terminated, successfully or not
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error of the run. It is only meaningful after Done is closed.
func (h *RunHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Completion returns the terminal signal and the time it arrived
func (h *RunHandle) Completion() (RunComplete, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed, h.completedAt
}

// Wait blocks until the run terminates or ctx is done. When ctx expires first the handle is
// detached: the sink receives no further notifications and ErrRunTimeout is returned.
func (h *RunHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
	}

	// The run may have finished at the same moment
	select {
	case <-h.done:
		return h.Err()
	default:
	}

	h.Detach()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: request %s (batch %d): %w", ErrRunTimeout, h.RequestID, h.BatchIndex, ctx.Err())
	}
	return ctx.Err()
}

// Detach stops forwarding notifications to the sink. After Detach returns no sink method is
// running or will be called for this handle.
func (h *RunHandle) Detach() {
	h.mu.Lock()
	h.detached = true
	h.mu.Unlock()
	h.abandon.Do(func() { close(h.abandoned) })
}

// dispatch forwards one notification to the sink. It reports whether the run is complete.
func (h *RunHandle) dispatch(ev RunEvent) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.detached {
		return false, nil
	}
	if ev.RequestID != "" && ev.RequestID != h.RequestID {
		return false, &SequenceError{
			Op:     "runTests",
			Reason: fmt.Sprintf("notification for request %s delivered on request %s", ev.RequestID, h.RequestID),
		}
	}
	for _, res := range ev.Results {
		if err := res.Validate(); err != nil {
			return false, &ProtocolError{Op: "runTests", Reason: "invalid result", Err: err}
		}
	}

	switch ev.Kind {
	case EventStatsChanged:
		if len(ev.Results) == 0 {
			return false, nil
		}
		return false, h.sink.HandleStatsChanged(ev.Results)
	case EventComplete:
		if len(ev.Results) > 0 {
			if err := h.sink.HandleStatsChanged(ev.Results); err != nil {
				return false, err
			}
		}
		h.completed = RunComplete{RequestID: h.RequestID, Aborted: ev.Aborted, Elapsed: ev.Elapsed}
		h.completedAt = time.Now()
		return true, h.sink.HandleRunComplete(h.completed)
	default:
		return false, &ProtocolError{Op: "runTests", Reason: fmt.Sprintf("unexpected notification kind %q", ev.Kind)}
	}
}

func (h *RunHandle) finish(err error) {
	h.doneOnce.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}
