package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/engine/mockengine"
	"github.com/ethereum-optimism/infra/op-testsplit/partition"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

const testArtifact = "/out/Tests.dll"

type testSetup struct {
	client *engine.Client
	eng    *mockengine.Engine
	stop   func()
	inv    *types.TestInventory
}

// setupOrchestration serves a mock engine with n tests and discovers them
func setupOrchestration(t *testing.T, n int, cfg mockengine.Config) *testSetup {
	t.Helper()
	tests := make([]types.TestCase, n)
	for i := range tests {
		tests[i] = types.TestCase{ID: fmt.Sprintf("Suite.Test%03d", i), Source: testArtifact}
	}
	cfg.Catalog = map[string][]types.TestCase{testArtifact: tests}
	cfg.Log = log.NewLogger(log.DiscardHandler())

	eng := mockengine.New(cfg)
	rc, srv, err := mockengine.InProc(eng)
	require.NoError(t, err)
	client, err := engine.NewClient(context.Background(), rc, log.NewLogger(log.DiscardHandler()), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
		eng.Close()
	})

	dc := NewDiscoveryCollector(true, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, client.Discover(context.Background(), []string{testArtifact}, types.DefaultRunSettings, dc))
	inv, err := dc.Inventory()
	require.NoError(t, err)
	require.Equal(t, n, inv.Len())

	return &testSetup{client: client, eng: eng, stop: srv.Stop, inv: inv}
}

func (s *testSetup) orchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	cfg.Engine = s.client
	cfg.Log = log.NewLogger(log.DiscardHandler())
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func (s *testSetup) batches(t *testing.T, policy partition.Policy) []types.Batch {
	t.Helper()
	batches, err := partition.Partition(s.inv, policy)
	require.NoError(t, err)
	return batches
}

func assertOwnOutcomesOnly(t *testing.T, res *ModeResult) {
	t.Helper()
	for _, b := range res.Batches {
		require.Len(t, b.Outcomes, b.Batch.Len(), "batch %d", b.Batch.Index)
		for i, o := range b.Outcomes {
			assert.Equal(t, b.Batch.Tests[i].ID, o.TestID, "batch %d", b.Batch.Index)
		}
		assert.Empty(t, b.ForeignOutcomes)
		assert.Empty(t, b.MissingTests)
		assert.False(t, b.PossiblyCoalesced)
	}
}

func TestNewOrchestrator(t *testing.T) {
	_, err := NewOrchestrator(Config{})
	require.Error(t, err)

	s := setupOrchestration(t, 1, mockengine.Config{})
	o := s.orchestrator(t, Config{})
	assert.NotEmpty(t, o.RunID())
	assert.Equal(t, types.DefaultRunSettings, o.cfg.Settings)

	_, err = NewOrchestrator(Config{Engine: s.client, RunTimeout: -time.Second})
	require.Error(t, err)
}

func TestParseModes(t *testing.T) {
	modes, err := ParseModes("all")
	require.NoError(t, err)
	assert.Equal(t, AllModes, modes)

	modes, err = ParseModes(" Async ")
	require.NoError(t, err)
	assert.Equal(t, []Mode{ModeAsync}, modes)

	_, err = ParseModes("threads")
	require.Error(t, err)
}

func TestRunSequential(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7, 40} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := setupOrchestration(t, n, mockengine.Config{ChunkSize: 3})
			o := s.orchestrator(t, Config{})

			res, err := o.RunSequential(context.Background(), s.batches(t, partition.Halves()))
			require.NoError(t, err)
			require.Len(t, res.Batches, 2)

			assert.Equal(t, n, res.TotalOutcomes())
			assert.Equal(t, res.TotalSubmitted(), res.TotalOutcomes())
			assertOwnOutcomesOnly(t, res)
			assert.Equal(t, StatusPass, res.Status())
			assert.Equal(t, int64(2), s.eng.PhysicalRuns())
		})
	}
}

func TestRunSequential_SingleTest(t *testing.T) {
	s := setupOrchestration(t, 1, mockengine.Config{})
	o := s.orchestrator(t, Config{})

	res, err := o.RunSequential(context.Background(), s.batches(t, partition.Halves()))
	require.NoError(t, err)
	assert.Empty(t, res.Batches[0].Outcomes)
	require.Len(t, res.Batches[1].Outcomes, 1)
	assert.Equal(t, "Suite.Test000", res.Batches[1].Outcomes[0].TestID)
}

func TestRunSequential_UnreachableAbortsRemaining(t *testing.T) {
	s := setupOrchestration(t, 9, mockengine.Config{ChunkSize: 1, StallAfter: 2})
	o := s.orchestrator(t, Config{})

	type result struct {
		res *ModeResult
		err error
	}
	batches := s.batches(t, partition.Chunks(3))
	done := make(chan result, 1)
	go func() {
		res, err := o.RunSequential(context.Background(), batches)
		done <- result{res, err}
	}()

	require.Eventually(t, func() bool { return s.eng.PhysicalRuns() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	s.stop()

	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sequential run did not return after the engine was lost")
	}
	require.Error(t, r.err)
	assert.True(t, engine.IsUnreachable(r.err))
	require.NotNil(t, r.res)

	first := r.res.Batches[0]
	assert.True(t, engine.IsUnreachable(first.Err))
	assert.Len(t, first.Outcomes, 2, "partial outcomes stay visible")
	assert.ErrorIs(t, r.res.Batches[1].Err, ErrNotRun)
	assert.ErrorIs(t, r.res.Batches[2].Err, ErrNotRun)
	assert.Equal(t, StatusError, r.res.Status())
}

func TestRunSequential_RunTimeout(t *testing.T) {
	s := setupOrchestration(t, 4, mockengine.Config{ChunkSize: 1, StallAfter: 1})
	o := s.orchestrator(t, Config{RunTimeout: 200 * time.Millisecond})

	res, err := o.RunSequential(context.Background(), s.batches(t, partition.Halves()))
	require.ErrorIs(t, err, engine.ErrRunTimeout)
	for _, b := range res.Batches {
		assert.ErrorIs(t, b.Err, engine.ErrRunTimeout, "a timeout does not abort the remaining batches")
		assert.LessOrEqual(t, len(b.Outcomes), 1)
	}
}

func TestRunParallel(t *testing.T) {
	s := setupOrchestration(t, 30, mockengine.Config{ChunkSize: 4, TestDuration: time.Millisecond})
	o := s.orchestrator(t, Config{})

	res, err := o.RunParallel(context.Background(), s.batches(t, partition.Chunks(5)))
	require.NoError(t, err)
	require.Len(t, res.Batches, 5)
	assert.Equal(t, 30, res.TotalOutcomes())
	assertOwnOutcomesOnly(t, res)
	assert.Equal(t, int64(5), s.eng.PhysicalRuns())
}

func TestRunParallel_UnreachableCancelsWorkers(t *testing.T) {
	s := setupOrchestration(t, 6, mockengine.Config{ChunkSize: 1, StallAfter: 1})
	o := s.orchestrator(t, Config{})

	batches := s.batches(t, partition.Chunks(3))
	done := make(chan *ModeResult, 1)
	errs := make(chan error, 1)
	go func() {
		res, err := o.RunParallel(context.Background(), batches)
		done <- res
		errs <- err
	}()

	require.Eventually(t, func() bool { return s.eng.PhysicalRuns() == 3 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	s.stop()

	res := <-done
	err := <-errs
	require.Error(t, err)
	assert.True(t, engine.IsUnreachable(err))
	for _, b := range res.Batches {
		assert.Error(t, b.Err)
	}
}

func TestRunParallel_SharedCollectorIsRejected(t *testing.T) {
	s := setupOrchestration(t, 4, mockengine.Config{TestDuration: 100 * time.Millisecond})
	o := s.orchestrator(t, Config{ReuseCollectors: true})

	tests := s.inv.Tests()
	// Two batches claiming the same index would share one reused collector
	batches := []types.Batch{
		{Index: 0, Tests: tests[:2]},
		{Index: 0, Tests: tests[2:]},
	}
	res, err := o.RunParallel(context.Background(), batches)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCollectorInUse)

	var rejected int
	for _, b := range res.Batches {
		if b.Err != nil {
			assert.ErrorIs(t, b.Err, ErrCollectorInUse)
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestRunAsync_BackToBackIsFlagged(t *testing.T) {
	s := setupOrchestration(t, 10, mockengine.Config{DebounceWindow: 200 * time.Millisecond})
	o := s.orchestrator(t, Config{DebounceWindow: DefaultDebounceWindow})

	res, err := o.RunAsync(context.Background(), s.batches(t, partition.Halves()))
	require.NoError(t, err)
	require.Equal(t, int64(1), s.eng.PhysicalRuns(), "the engine merged both requests")

	assert.True(t, res.Ambiguous())
	for _, b := range res.Batches {
		assert.True(t, b.PossiblyCoalesced, "batch %d", b.Batch.Index)
	}
	assert.Equal(t, []int{1}, res.Batches[0].CoalescedWith)
	assert.Len(t, res.Batches[0].Outcomes, 10, "the first request received every result")
	assert.Len(t, res.Batches[0].ForeignOutcomes, 5)
	assert.Len(t, res.Batches[1].MissingTests, 5)

	// Misattributed but not lost
	assert.Equal(t, res.TotalSubmitted(), res.TotalOutcomes())
	require.Len(t, res.Groups, 1)
	assert.True(t, res.Groups[0].Complete())
	assert.Equal(t, 10, res.Groups[0].Received)
}

func TestRunAsync_SpacedIssuanceIsNotFlagged(t *testing.T) {
	s := setupOrchestration(t, 10, mockengine.Config{DebounceWindow: 20 * time.Millisecond})
	o := s.orchestrator(t, Config{
		DebounceWindow: 50 * time.Millisecond,
		IssueInterval:  150 * time.Millisecond,
	})

	res, err := o.RunAsync(context.Background(), s.batches(t, partition.Halves()))
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.eng.PhysicalRuns())

	gap := res.Batches[1].IssuedAt.Sub(res.Batches[0].IssuedAt)
	assert.GreaterOrEqual(t, gap, 50*time.Millisecond)
	assert.False(t, res.Ambiguous())
	assert.Empty(t, res.Groups)
	assertOwnOutcomesOnly(t, res)
}

func TestRunAsync_IssueIntervalEqualToDebounceWindow(t *testing.T) {
	s := setupOrchestration(t, 8, mockengine.Config{})
	o := s.orchestrator(t, Config{
		DebounceWindow: 20 * time.Millisecond,
		IssueInterval:  20 * time.Millisecond,
	})

	for i := range 10 {
		res, err := o.RunAsync(context.Background(), s.batches(t, partition.Chunks(4)))
		require.NoError(t, err)
		for j := 1; j < len(res.Batches); j++ {
			gap := res.Batches[j].IssuedAt.Sub(res.Batches[j-1].IssuedAt)
			assert.GreaterOrEqual(t, gap, 20*time.Millisecond, "run %d batch %d", i, j)
		}
		assert.False(t, res.Ambiguous(), "run %d", i)
		assertOwnOutcomesOnly(t, res)
	}
}

// rejectingEngine fails the issuance of one batch and forwards the rest
type rejectingEngine struct {
	Engine
	reject int
}

func (e *rejectingEngine) RunAsync(ctx context.Context, batch types.Batch, settings string, sink engine.ResultSink) (*engine.RunHandle, error) {
	if batch.Index == e.reject {
		return nil, errors.New("run request rejected")
	}
	return e.Engine.RunAsync(ctx, batch, settings, sink)
}

func TestRunAsync_RejectedIssuanceIsNotLinked(t *testing.T) {
	s := setupOrchestration(t, 9, mockengine.Config{})
	o, err := NewOrchestrator(Config{
		Engine:         &rejectingEngine{Engine: s.client, reject: 1},
		Log:            log.NewLogger(log.DiscardHandler()),
		DebounceWindow: time.Second,
	})
	require.NoError(t, err)

	batches := s.batches(t, partition.Chunks(3))
	require.Len(t, batches, 3)
	res, err := o.RunAsync(context.Background(), batches)
	require.Error(t, err)

	rejected := res.Batches[1]
	assert.ErrorContains(t, rejected.Err, "rejected")
	assert.True(t, rejected.IssuedAt.IsZero())
	assert.Zero(t, rejected.Duration)
	assert.Empty(t, rejected.CoalescedWith)
	assert.False(t, rejected.PossiblyCoalesced)

	// The two issued batches are still close enough to be linked with each other
	assert.Equal(t, []int{2}, res.Batches[0].CoalescedWith)
	assert.Equal(t, []int{0}, res.Batches[2].CoalescedWith)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, []int{0, 2}, res.Groups[0].Batches)
}

func TestRunAsync_NoCoalescingEngine(t *testing.T) {
	s := setupOrchestration(t, 8, mockengine.Config{})
	o := s.orchestrator(t, Config{DebounceWindow: 0})

	res, err := o.RunAsync(context.Background(), s.batches(t, partition.Chunks(4)))
	require.NoError(t, err)
	assert.False(t, res.Ambiguous())
	assertOwnOutcomesOnly(t, res)
}

func TestRunAsync_EmptyBatches(t *testing.T) {
	s := setupOrchestration(t, 0, mockengine.Config{})
	o := s.orchestrator(t, Config{})

	res, err := o.RunAsync(context.Background(), s.batches(t, partition.Halves()))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalOutcomes())
	for _, b := range res.Batches {
		assert.NoError(t, b.Err)
	}
}

func TestRunAsync_UnreachableKeepsPartialResults(t *testing.T) {
	s := setupOrchestration(t, 8, mockengine.Config{ChunkSize: 1, StallAfter: 2})
	o := s.orchestrator(t, Config{})

	batches := s.batches(t, partition.Halves())
	done := make(chan *ModeResult, 1)
	errs := make(chan error, 1)
	go func() {
		res, err := o.RunAsync(context.Background(), batches)
		done <- res
		errs <- err
	}()

	require.Eventually(t, func() bool { return s.eng.PhysicalRuns() == 2 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	s.stop()

	res := <-done
	err := <-errs
	require.Error(t, err)
	assert.True(t, engine.IsUnreachable(err))
	for _, b := range res.Batches {
		assert.Error(t, b.Err)
		assert.Len(t, b.Outcomes, 2, "batch %d keeps what arrived before the loss", b.Batch.Index)
	}
}

func TestRunAll_ReusedCollectorsHaveNoStaleEntries(t *testing.T) {
	s := setupOrchestration(t, 12, mockengine.Config{ChunkSize: 5})
	o := s.orchestrator(t, Config{ReuseCollectors: true})

	batches := s.batches(t, partition.Halves())
	results, err := o.RunAll(context.Background(), AllModes, batches)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, AllModes[i], res.Mode)
		assert.Equal(t, o.RunID(), res.RunID)
		assert.Equal(t, 12, res.TotalOutcomes(), "mode %s", res.Mode)
		assertOwnOutcomesOnly(t, res)
	}
}

func TestRun_UnknownMode(t *testing.T) {
	s := setupOrchestration(t, 1, mockengine.Config{})
	o := s.orchestrator(t, Config{})
	_, err := o.Run(context.Background(), Mode("threads"), nil)
	require.Error(t, err)
}
