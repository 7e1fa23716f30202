// Package testsplit discovers the tests of one or more artifacts through an external
// test-execution engine, partitions them into batches and runs the batches in the
// sequential, parallel and async execution modes.
package testsplit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/exitcodes"
	"github.com/ethereum-optimism/infra/op-testsplit/logging"
	"github.com/ethereum-optimism/infra/op-testsplit/metrics"
	"github.com/ethereum-optimism/infra/op-testsplit/partition"
	"github.com/ethereum-optimism/infra/op-testsplit/reporting"
	"github.com/ethereum-optimism/infra/op-testsplit/runner"
	"github.com/ethereum-optimism/infra/op-testsplit/service"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// splitter implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &splitter{}

// splitter runs one orchestration and then asks the application to shut down
type splitter struct {
	ctx     context.Context
	config  *Config
	version string
	service *service.Service
	tracer  trace.Tracer
	results []*runner.ModeResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*splitter, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Policy == nil {
		config.Policy = partition.Halves()
	}
	if err := config.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating op-testsplit with config",
		"engine", config.Endpoint,
		"artifacts", config.Artifacts,
		"modes", config.Modes,
		"policy", config.Policy.Name(),
		"debounceWindow", config.DebounceWindow,
		"issueInterval", config.IssueInterval)

	return &splitter{
		ctx:              ctx,
		config:           config,
		version:          version,
		service:          service.New(config.Service),
		tracer:           otel.Tracer("testsplit"),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the orchestration once.
// Start implements the cliapp.Lifecycle interface.
func (s *splitter) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			s.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	s.ctx = ctx
	s.running.Store(true)
	s.config.Log.Info("Starting op-testsplit", "version", s.version)

	if err := s.service.Start(ctx); err != nil {
		return NewRuntimeError(fmt.Errorf("failed to start service: %w", err))
	}

	results, err := s.run(ctx)
	s.results = results
	if err != nil {
		kind := "setup"
		var runtimeErr *RuntimeError
		if errors.As(err, &runtimeErr) {
			kind = runtimeErr.Kind()
		}
		s.config.Log.Error("Runtime error running batches", "kind", kind, "error", err)
		return err
	}

	if msg := failureSummary(results); msg != "" {
		s.config.Log.Warn("Run completed with failures, returning exit code 1", "summary", msg)
		failure := NewTestFailureError(msg)
		for _, res := range results {
			failure.Ambiguous = failure.Ambiguous || res.Ambiguous()
		}
		return failure
	}

	s.config.Log.Info("Run completed, exiting")
	go func() {
		s.shutdownCallback(nil)
	}()
	return nil
}

// run connects to the engine, discovers and partitions the tests and runs every configured mode
func (s *splitter) run(ctx context.Context) ([]*runner.ModeResult, error) {
	runID := uuid.New().String()
	lg := s.config.Log.New("run_id", runID)
	runDir := reporting.RunDir(s.config.LogDir, runID)

	engineLogPath := s.config.EngineLogFile
	if engineLogPath == "" {
		engineLogPath = filepath.Join(runDir, logging.EngineLogFilename)
	}
	engineLog, err := logging.NewEngineLog(engineLogPath)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create engine log: %w", err))
	}
	defer engineLog.Close()

	var launcher *engine.Launcher
	if s.config.EngineCmd != "" {
		out, err := logging.NewAsyncFile(filepath.Join(runDir, logging.EngineOutputFilename))
		if err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create engine output file: %w", err))
		}
		defer out.Close()
		launcher = &engine.Launcher{
			Path:   s.config.EngineCmd,
			Args:   s.config.EngineArgs,
			Stdout: out,
			Stderr: out,
			Log:    lg,
		}
	}

	client, err := engine.Dial(ctx, engine.Config{
		Endpoint:          s.config.Endpoint,
		ConnectionTimeout: s.config.ConnectionTimeout,
		Log:               lg,
		Launcher:          launcher,
		LogSink:           engineLog,
	})
	if err != nil {
		if engine.IsUnreachable(err) {
			metrics.RecordEngineError("unreachable")
		} else if engine.IsProtocolError(err) {
			metrics.RecordEngineError("protocol")
		}
		return nil, NewRuntimeError(fmt.Errorf("failed to connect to engine: %w", err))
	}
	defer client.Close()
	info := client.Info()
	lg.Info("Connected to engine", "name", info.Name, "version", info.Version, "log", engineLog.Path())

	inv, err := s.discover(ctx, client, runID, lg)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	batches, err := partition.Partition(inv, s.config.Policy)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to partition tests: %w", err))
	}
	if coverage := partition.Coverage(inv, batches); !coverage.Complete() {
		lg.Warn("Partition policy does not cover the inventory exactly",
			"policy", s.config.Policy.Name(), "coverage", coverage.String())
	}
	lg.Info("Partitioned tests", "policy", s.config.Policy.Name(), "tests", inv.Len(), "batches", len(batches))

	orch, err := runner.NewOrchestrator(runner.Config{
		Engine:          client,
		Log:             lg,
		RunID:           runID,
		Settings:        s.config.Settings,
		DebounceWindow:  s.config.DebounceWindow,
		IssueInterval:   s.config.IssueInterval,
		RunTimeout:      s.config.RunTimeout,
		ReuseCollectors: s.config.ReuseCollectors,
	})
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create orchestrator: %w", err))
	}

	results, runErr := orch.RunAll(ctx, s.config.Modes, batches)

	if err := s.report(runID, results); err != nil {
		lg.Error("Failed to report results", "error", err)
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return results, NewRuntimeError(runErr)
	}
	return results, nil
}

// discover collects the frozen inventory of every configured artifact
func (s *splitter) discover(ctx context.Context, client *engine.Client, runID string, lg log.Logger) (*types.TestInventory, error) {
	ctx, span := s.tracer.Start(ctx, "discover",
		trace.WithAttributes(attribute.Int("artifacts", len(s.config.Artifacts))))
	defer span.End()

	start := time.Now()
	collector := runner.NewDiscoveryCollector(s.config.Dedupe, lg)
	if err := client.Discover(ctx, s.config.Artifacts, s.config.Settings, collector); err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	inv, err := collector.Inventory()
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	if collector.Aborted() {
		lg.Warn("Engine aborted discovery, continuing with the tests found so far", "tests", inv.Len())
	}

	span.SetAttributes(attribute.Int("tests", inv.Len()))
	metrics.RecordDiscovery(runID, inv.Len(), inv.DuplicatesDropped())
	lg.Info("Discovered tests",
		"tests", inv.Len(),
		"reported", collector.TotalReported(),
		"duplicates", inv.DuplicatesDropped(),
		"chunks", collector.Chunks(),
		"duration", time.Since(start))
	return inv, nil
}

// report hands every mode result to the console table, the summary file and the JSON files
func (s *splitter) report(runID string, results []*runner.ModeResult) error {
	sink := reporting.MultiSink{
		reporting.NewTableSink(s.config.Stdout, s.config.ShowOutcomes),
		reporting.NewSummarySink(s.config.LogDir, runID, true),
		reporting.NewJSONSink(s.config.LogDir, runID),
	}
	var errs []error
	for _, res := range results {
		if err := sink.Report(res); err != nil {
			errs = append(errs, err)
		}
	}
	if err := sink.Close(); err != nil {
		errs = append(errs, err)
	}
	fmt.Fprintf(s.config.Stdout, "Results written to %s\n", reporting.RunDir(s.config.LogDir, runID))
	return errors.Join(errs...)
}

// failureSummary describes the modes that failed or whose outcomes cannot be attributed to
// their batches. It is empty when every mode passed unambiguously.
func failureSummary(results []*runner.ModeResult) string {
	var parts []string
	for _, res := range results {
		var issues []string
		if stats := res.Stats(); stats.Failures() > 0 {
			issues = append(issues, fmt.Sprintf("%d failed", stats.Failures()))
		}
		if res.Status() == runner.StatusError {
			issues = append(issues, "errored")
		}
		if res.Ambiguous() {
			issues = append(issues, "ambiguous attribution")
		}
		if len(issues) > 0 {
			parts = append(parts, fmt.Sprintf("%s mode: %s", res.Mode, strings.Join(issues, ", ")))
		}
	}
	return strings.Join(parts, "; ")
}

// Results returns the mode results of the last Start
func (s *splitter) Results() []*runner.ModeResult {
	return s.results
}

// Stop stops the op-testsplit service.
// Stop implements the cliapp.Lifecycle interface.
func (s *splitter) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-testsplit")

	if !s.running.Load() {
		s.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	s.running.Store(false)
	s.service.Shutdown()

	s.config.Log.Info("op-testsplit stopped successfully")
	return nil
}

// Stopped returns true if the op-testsplit service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (s *splitter) Stopped() bool {
	return !s.running.Load()
}
