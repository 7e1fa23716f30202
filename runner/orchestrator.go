package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/metrics"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// Engine is the part of the engine client the Orchestrator drives. *engine.Client implements it.
type Engine interface {
	RunSync(ctx context.Context, batch types.Batch, settings string, sink engine.ResultSink) error
	RunAsync(ctx context.Context, batch types.Batch, settings string, sink engine.ResultSink) (*engine.RunHandle, error)
}

// Config holds configuration for creating an Orchestrator
type Config struct {
	Engine          Engine
	Log             log.Logger
	RunID           string        // Identifies the orchestration in results and metrics, generated when empty
	Settings        string        // Settings document sent with every run, "" = types.DefaultRunSettings
	DebounceWindow  time.Duration // Async requests issued closer than this are flagged, 0 = only flag on attribution mismatch
	IssueInterval   time.Duration // Minimum spacing between async issuances, 0 = back to back
	RunTimeout      time.Duration // Caller-level timeout per run request, 0 = none
	ReuseCollectors bool          // Keep one collector per batch index and Reset it between runs
}

// Orchestrator runs partitioned batches against the engine in the three execution modes
type Orchestrator struct {
	cfg    Config
	log    log.Logger
	tracer trace.Tracer

	mu         sync.Mutex
	collectors map[int]*RunCollector
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if strings.TrimSpace(cfg.Settings) == "" {
		cfg.Settings = types.DefaultRunSettings
	}
	if cfg.DebounceWindow < 0 || cfg.IssueInterval < 0 || cfg.RunTimeout < 0 {
		return nil, errors.New("durations cannot be negative")
	}

	return &Orchestrator{
		cfg:        cfg,
		log:        cfg.Log.New("component", "orchestrator", "run_id", cfg.RunID),
		tracer:     otel.Tracer("orchestrator"),
		collectors: make(map[int]*RunCollector),
	}, nil
}

// RunID returns the identifier of the orchestration
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

// Run runs the batches in the given mode
func (o *Orchestrator) Run(ctx context.Context, mode Mode, batches []types.Batch) (*ModeResult, error) {
	switch mode {
	case ModeSequential:
		return o.RunSequential(ctx, batches)
	case ModeParallel:
		return o.RunParallel(ctx, batches)
	case ModeAsync:
		return o.RunAsync(ctx, batches)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// RunAll runs the same batches in each of the given modes, in order. A lost engine stops
// the remaining modes. Results of every mode that ran are returned with the joined errors.
func (o *Orchestrator) RunAll(ctx context.Context, modes []Mode, batches []types.Batch) ([]*ModeResult, error) {
	var results []*ModeResult
	var errs []error
	for _, mode := range modes {
		res, err := o.Run(ctx, mode, batches)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s mode: %w", mode, err))
			if engine.IsUnreachable(err) || ctx.Err() != nil {
				break
			}
		}
	}
	return results, errors.Join(errs...)
}

// RunSequential runs one batch at a time in order, blocking on each
func (o *Orchestrator) RunSequential(ctx context.Context, batches []types.Batch) (*ModeResult, error) {
	res := newModeResult(o.cfg.RunID, ModeSequential, batches)
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("mode %s", ModeSequential))
	defer span.End()

	o.log.Info("Running batches sequentially", "batches", len(batches))
	for i, br := range res.Batches {
		err := o.runSync(ctx, ModeSequential, br)
		if err != nil && res.Err == nil {
			res.Err = err
		}
		if engine.IsUnreachable(err) || ctx.Err() != nil {
			abortRemaining(res.Batches[i+1:])
			break
		}
	}
	return o.finish(res)
}

// RunParallel runs every batch on its own worker. Each worker blocks on its run; the workers
// share the engine session. A lost engine cancels the workers still running.
func (o *Orchestrator) RunParallel(ctx context.Context, batches []types.Batch) (*ModeResult, error) {
	res := newModeResult(o.cfg.RunID, ModeParallel, batches)
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("mode %s", ModeParallel))
	defer span.End()

	o.log.Info("Running batches in parallel", "batches", len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for _, br := range res.Batches {
		g.Go(func() error {
			if err := o.runSync(gctx, ModeParallel, br); engine.IsUnreachable(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Err = err
	} else {
		res.Err = firstBatchError(res.Batches)
	}
	return o.finish(res)
}

// RunAsync issues every batch on the shared session without waiting in between, then
// awaits all of them. Batches issued within the debounce window of each other, or whose
// collected outcomes do not match what they submitted, are flagged as PossiblyCoalesced.
func (o *Orchestrator) RunAsync(ctx context.Context, batches []types.Batch) (*ModeResult, error) {
	res := newModeResult(o.cfg.RunID, ModeAsync, batches)
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("mode %s", ModeAsync))
	defer span.End()

	var limiter *rate.Limiter
	if o.cfg.IssueInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(o.cfg.IssueInterval), 1)
	}

	type inflight struct {
		br     *BatchResult
		coll   *RunCollector
		handle *engine.RunHandle
		span   trace.Span
	}
	var issued []inflight
	var lastIssue time.Time

	o.log.Info("Issuing async batches", "batches", len(batches), "issueInterval", o.cfg.IssueInterval)
	for i, br := range res.Batches {
		if limiter != nil {
			if err := o.awaitIssueSlot(ctx, limiter, lastIssue); err != nil {
				res.Err = err
				abortRemaining(res.Batches[i:])
				break
			}
		}

		coll, err := o.collector(br.Batch.Index)
		if err != nil {
			br.Err = err
			continue
		}
		_, batchSpan := o.tracer.Start(ctx, fmt.Sprintf("batch %d", br.Batch.Index),
			trace.WithAttributes(attribute.Int("tests", br.Batch.Len())))
		metrics.RecordRunRequest(string(ModeAsync))
		attempted := time.Now()
		h, err := o.cfg.Engine.RunAsync(ctx, br.Batch, o.cfg.Settings, coll)
		if err != nil {
			// The request may still have reached the engine
			lastIssue = attempted
			coll.Release()
			o.finishBatch(ModeAsync, br, coll, err)
			batchSpan.End()
			if engine.IsUnreachable(err) || ctx.Err() != nil {
				res.Err = err
				abortRemaining(res.Batches[i+1:])
				break
			}
			continue
		}
		br.IssuedAt = h.IssuedAt
		lastIssue = h.IssuedAt
		issued = append(issued, inflight{br: br, coll: coll, handle: h, span: batchSpan})
	}

	var lost error
	for _, p := range issued {
		var err error
		if lost != nil {
			// The session is gone, take whatever arrived and stop listening
			p.handle.Detach()
			select {
			case <-p.handle.Done():
				err = p.handle.Err()
			default:
				err = lost
			}
		} else {
			waitCtx, cancel := o.runContext(ctx, p.br.IssuedAt)
			err = p.handle.Wait(waitCtx)
			cancel()
		}
		p.coll.Release()
		o.finishBatch(ModeAsync, p.br, p.coll, err)
		p.span.End()

		if engine.IsUnreachable(err) && lost == nil {
			lost = err
		}
	}

	if res.Err == nil {
		res.Err = lost
	}
	if res.Err == nil {
		res.Err = firstBatchError(res.Batches)
	}
	return o.finish(res)
}

// awaitIssueSlot blocks until the limiter admits the next issuance and at least
// IssueInterval has passed since the previous one was stamped
func (o *Orchestrator) awaitIssueSlot(ctx context.Context, limiter *rate.Limiter, last time.Time) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if last.IsZero() {
		return nil
	}
	remaining := time.Until(last.Add(o.cfg.IssueInterval))
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSync runs one batch and blocks until it terminates
func (o *Orchestrator) runSync(ctx context.Context, mode Mode, br *BatchResult) error {
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("batch %d", br.Batch.Index),
		trace.WithAttributes(attribute.Int("tests", br.Batch.Len())))
	defer span.End()

	coll, err := o.collector(br.Batch.Index)
	if err != nil {
		br.Err = err
		return err
	}
	defer coll.Release()

	br.IssuedAt = time.Now()
	runCtx, cancel := o.runContext(ctx, br.IssuedAt)
	defer cancel()

	metrics.RecordRunRequest(string(mode))
	err = o.cfg.Engine.RunSync(runCtx, br.Batch, o.cfg.Settings, coll)
	o.finishBatch(mode, br, coll, err)
	return err
}

// runContext bounds a run by the configured caller-level timeout, counted from issuance
func (o *Orchestrator) runContext(ctx context.Context, issuedAt time.Time) (context.Context, context.CancelFunc) {
	if o.cfg.RunTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, issuedAt.Add(o.cfg.RunTimeout))
}

// collector returns a checked out collector for the batch
func (o *Orchestrator) collector(index int) (*RunCollector, error) {
	if !o.cfg.ReuseCollectors {
		c := NewRunCollector()
		return c, c.Acquire()
	}

	o.mu.Lock()
	c, ok := o.collectors[index]
	if !ok {
		c = NewRunCollector()
		o.collectors[index] = c
	}
	o.mu.Unlock()

	if err := c.Reset(); err != nil {
		return nil, fmt.Errorf("batch %d: %w", index, err)
	}
	if err := c.Acquire(); err != nil {
		return nil, fmt.Errorf("batch %d: %w", index, err)
	}
	return c, nil
}

// finishBatch copies what the collector holds into the batch result
func (o *Orchestrator) finishBatch(mode Mode, br *BatchResult, coll *RunCollector, err error) {
	if !br.IssuedAt.IsZero() {
		br.Duration = time.Since(br.IssuedAt)
	}
	br.Outcomes = coll.Results()
	_, info := coll.Completed()
	br.Aborted = info.Aborted
	br.Err = err

	for _, out := range br.Outcomes {
		metrics.RecordOutcome(string(mode), out.Outcome)
	}
	metrics.RecordBatch(o.cfg.RunID, string(mode), br.Batch.Index, br.Duration)

	if err != nil {
		metrics.RecordEngineError(errorClass(err))
		o.log.Error("Batch failed", "mode", mode, "batch", br.Batch.Index, "outcomes", len(br.Outcomes),
			"submitted", br.Batch.Len(), "err", err)
		return
	}
	o.log.Debug("Batch complete", "mode", mode, "batch", br.Batch.Index, "outcomes", len(br.Outcomes),
		"submitted", br.Batch.Len(), "duration", br.Duration)
}

// finish runs the attribution checks and records the mode
func (o *Orchestrator) finish(res *ModeResult) (*ModeResult, error) {
	res.Duration = time.Since(res.StartTime)
	checkAttribution(res)
	if res.Mode == ModeAsync {
		flagCoalesced(res, o.cfg.DebounceWindow)
	}

	for _, b := range res.Batches {
		if b.PossiblyCoalesced {
			metrics.RecordPossiblyCoalesced(string(res.Mode))
			o.log.Warn("Batch results may be misattributed by engine request coalescing",
				"batch", b.Batch.Index, "coalescedWith", b.CoalescedWith,
				"foreign", len(b.ForeignOutcomes), "missing", len(b.MissingTests))
		} else if len(b.MissingTests) > 0 && b.Err == nil {
			o.log.Warn("Batch completed without outcomes for some tests", "mode", res.Mode,
				"batch", b.Batch.Index, "missing", len(b.MissingTests))
		}
	}
	for _, g := range res.Groups {
		if !g.Complete() {
			o.log.Warn("Coalesced batches lost outcomes", "batches", g.Batches,
				"submitted", g.Submitted, "received", g.Received)
		}
	}

	status := res.Status()
	metrics.RecordMode(res.RunID, string(res.Mode), string(status), res.Duration)
	o.log.Info("Mode complete", "mode", res.Mode, "status", status, "outcomes", res.TotalOutcomes(),
		"submitted", res.TotalSubmitted(), "ambiguous", res.Ambiguous(), "duration", res.Duration)
	return res, res.Err
}

func abortRemaining(batches []*BatchResult) {
	for _, b := range batches {
		if b.Err == nil && b.IssuedAt.IsZero() {
			b.Err = ErrNotRun
		}
	}
}

func firstBatchError(batches []*BatchResult) error {
	for _, b := range batches {
		if b.Err != nil {
			return b.Err
		}
	}
	return nil
}

func errorClass(err error) string {
	switch {
	case engine.IsUnreachable(err):
		return "unreachable"
	case engine.IsProtocolError(err):
		return "protocol"
	case engine.IsSequenceError(err):
		return "sequence"
	case errors.Is(err, engine.ErrRunTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
