// Package mockengine implements a reference test-execution engine speaking the engine protocol.
//
// It serves a fixed catalog of tests, decides outcomes from test ids, and reproduces the
// debounce defect of real engines: run requests that arrive within DebounceWindow of each
// other are merged into one physical run whose results are all delivered to the first request.
package mockengine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

const (
	DefaultChunkSize = 10
	DefaultName      = "mock-engine"
	DefaultVersion   = "v0.1.0"
)

// Config holds the behavior of a mock engine
type Config struct {
	Catalog            map[string][]types.TestCase // Artifact path -> tests in declaration order
	ChunkSize          int                         // Tests per discovery notification and results per run notification
	DuplicateDiscovery bool                        // Emit every discovered test twice
	DebounceWindow     time.Duration               // Merge run requests arriving within this window, 0 = never merge
	TestDuration       time.Duration               // Simulated duration of every test
	StallAfter         int                         // Stop after this many results without completing, 0 = never
	MalformedResults   bool                        // Send an undecodable results payload instead of results
	UnknownEventKind   bool                        // Send a notification with an unknown kind instead of results
	ProtocolVersion    int                         // Version reported in the handshake, 0 = engine.ProtocolVersion
	Log                log.Logger
}

// Engine is the mock engine. Create it with New and release it with Close.
type Engine struct {
	cfg   Config
	log   log.Logger
	known map[string]types.TestCase

	mu      sync.Mutex
	pending *physicalRun
	closed  bool

	requests     atomic.Int64
	physicalRuns atomic.Int64
	coalesced    atomic.Int64

	wg   sync.WaitGroup
	quit chan struct{}
}

type runRequest struct {
	req      engine.RunTestsRequest
	notifier *rpc.Notifier
	sub      *rpc.Subscription
}

type physicalRun struct {
	requests []*runRequest
}

// New creates a mock engine serving the given catalog
func New(cfg Config) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = engine.ProtocolVersion
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}

	known := make(map[string]types.TestCase)
	for source, tests := range cfg.Catalog {
		for _, tc := range tests {
			if tc.Source == "" {
				tc.Source = source
			}
			known[tc.ID] = tc
		}
	}

	return &Engine{
		cfg:   cfg,
		log:   cfg.Log.New("component", "mock-engine"),
		known: known,
		quit:  make(chan struct{}),
	}
}

// RequestsReceived returns how many run requests the engine accepted
func (e *Engine) RequestsReceived() int64 {
	return e.requests.Load()
}

// PhysicalRuns returns how many physical runs the engine executed
func (e *Engine) PhysicalRuns() int64 {
	return e.physicalRuns.Load()
}

// CoalescedRequests returns how many requests were merged into another request's run
func (e *Engine) CoalescedRequests() int64 {
	return e.coalesced.Load()
}

// Close stops all runs in progress, including stalled ones, and waits for them
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.quit)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// discover returns the catalog tests of the given sources in declaration order
func (e *Engine) discover(sources []string) ([]types.TestCase, []string) {
	var tests []types.TestCase
	var missing []string
	for _, source := range sources {
		found, ok := e.cfg.Catalog[source]
		if !ok {
			missing = append(missing, source)
			continue
		}
		for _, tc := range found {
			if tc.Source == "" {
				tc.Source = source
			}
			tests = append(tests, tc)
		}
	}
	if e.cfg.DuplicateDiscovery {
		tests = append(tests, tests...)
	}
	return tests, missing
}

// enqueue schedules a run request, merging it into the open debounce window if there is one
func (e *Engine) enqueue(r *runRequest) {
	e.requests.Add(1)

	if e.cfg.DebounceWindow <= 0 {
		e.start(&physicalRun{requests: []*runRequest{r}})
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		e.pending.requests = append(e.pending.requests, r)
		e.coalesced.Add(1)
		e.log.Debug("Run request merged into pending run", "request", r.req.RequestID,
			"merged", len(e.pending.requests))
		return
	}

	pr := &physicalRun{requests: []*runRequest{r}}
	e.pending = pr
	time.AfterFunc(e.cfg.DebounceWindow, func() {
		e.mu.Lock()
		if e.pending == pr {
			e.pending = nil
		}
		e.mu.Unlock()
		e.start(pr)
	})
}

func (e *Engine) start(pr *physicalRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.wg.Add(1)
	go e.execute(pr)
}

// execute runs every test of the merged requests and reports all results on the first request
func (e *Engine) execute(pr *physicalRun) {
	defer e.wg.Done()
	e.physicalRuns.Add(1)

	target := pr.requests[0]
	var tests []types.TestCase
	for _, r := range pr.requests {
		tests = append(tests, r.req.Tests...)
	}
	if len(pr.requests) > 1 {
		e.log.Info("Executing coalesced run", "requests", len(pr.requests), "tests", len(tests),
			"reportingTo", target.req.RequestID)
	}

	start := time.Now()
	chunk := make([]types.TestOutcome, 0, e.cfg.ChunkSize)
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		e.notify(target, engine.RunEvent{
			Kind:      engine.EventStatsChanged,
			RequestID: target.req.RequestID,
			Results:   chunk,
		})
		chunk = make([]types.TestOutcome, 0, e.cfg.ChunkSize)
	}

	for i, tc := range tests {
		if e.cfg.StallAfter > 0 && i >= e.cfg.StallAfter {
			flush()
			e.log.Debug("Run stalled", "request", target.req.RequestID, "after", i)
			<-e.quit
			return
		}
		if e.cfg.TestDuration > 0 {
			select {
			case <-time.After(e.cfg.TestDuration):
			case <-e.quit:
				return
			}
		}
		chunk = append(chunk, e.outcome(tc))
		if len(chunk) >= e.cfg.ChunkSize {
			flush()
		}
	}

	switch {
	case e.cfg.MalformedResults:
		e.notify(target, map[string]any{
			"kind":      engine.EventStatsChanged,
			"requestId": target.req.RequestID,
			"results":   "not-a-list",
		})
		return
	case e.cfg.UnknownEventKind:
		e.notify(target, engine.RunEvent{Kind: "progress", RequestID: target.req.RequestID})
		return
	}

	elapsed := time.Since(start)
	for _, r := range pr.requests {
		ev := engine.RunEvent{
			Kind:      engine.EventComplete,
			RequestID: r.req.RequestID,
			Elapsed:   elapsed,
		}
		if r == target {
			ev.Results = chunk
		}
		e.notify(r, ev)
	}
}

// outcome decides the result of a test from its id
func (e *Engine) outcome(tc types.TestCase) types.TestOutcome {
	out := types.TestOutcome{
		TestID:      tc.ID,
		DisplayName: tc.Name(),
		Outcome:     types.OutcomePassed,
		Duration:    e.cfg.TestDuration,
	}
	if _, ok := e.known[tc.ID]; !ok {
		out.Outcome = types.OutcomeNotFound
		out.ErrorMessage = fmt.Sprintf("test %s was not found in any source", tc.ID)
		return out
	}

	switch {
	case strings.Contains(tc.ID, "Fail"):
		out.Outcome = types.OutcomeFailed
		out.ErrorMessage = fmt.Sprintf("\x1b[31mAssert.Fail\x1b[0m failed in %s", tc.Name())
		out.ErrorStackTrace = fmt.Sprintf("at %s()", tc.ID)
	case strings.Contains(tc.ID, "Skip"):
		out.Outcome = types.OutcomeSkipped
	case strings.Contains(tc.ID, "Error"):
		out.Outcome = types.OutcomeError
		out.ErrorMessage = fmt.Sprintf("unhandled exception in %s", tc.Name())
	}
	return out
}

func (e *Engine) notify(r *runRequest, data any) {
	if err := r.notifier.Notify(r.sub.ID, data); err != nil {
		e.log.Debug("Failed to deliver notification", "request", r.req.RequestID, "err", err)
	}
}
