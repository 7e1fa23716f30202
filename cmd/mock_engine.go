package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testsplit/engine/mockengine"
	"github.com/ethereum-optimism/infra/op-testsplit/flags"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

// MockEngineCommand defines the "mock-engine" command serving the reference engine, so
// the orchestrator can be exercised without a real engine.
func MockEngineCommand() *cli.Command {
	return &cli.Command{
		Name:  "mock-engine",
		Usage: "Serve a reference test-execution engine",
		Description: `Serves a mock engine on a unix socket or websocket endpoint until interrupted.
Tests come from a YAML catalog or are generated with --synthetic. Test ids containing
"Fail", "Skip" or "Error" produce that outcome. Run requests arriving within
--mock.debounce-window of each other are merged into one run whose results all go to the
first request, like engines that debounce run requests.`,
		Flags:  append(flags.MockEngineFlags, oplog.CLIFlags(flags.EnvVarPrefix)...),
		Action: runMockEngine,
	}
}

func runMockEngine(ctx *cli.Context) error {
	log := oplog.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx))

	catalog, err := mockCatalog(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	eng := mockengine.New(mockengine.Config{
		Catalog:        catalog,
		DebounceWindow: ctx.Duration(flags.MockDebounceWindow.Name),
		TestDuration:   ctx.Duration(flags.MockTestDuration.Name),
		Log:            log,
	})
	defer eng.Close()

	start := time.Now()
	endpoint := ctx.String(flags.Listen.Name)
	if err := mockengine.Serve(ctx.Context, eng, endpoint); err != nil {
		return cli.Exit(fmt.Sprintf("mock engine failed: %v", err), 2)
	}
	log.Info("Mock engine stopped",
		"uptime", time.Since(start),
		"requests", eng.RequestsReceived(),
		"physicalRuns", eng.PhysicalRuns(),
		"coalesced", eng.CoalescedRequests())
	return nil
}

func mockCatalog(ctx *cli.Context) (map[string][]types.TestCase, error) {
	path := ctx.String(flags.Catalog.Name)
	n := ctx.Int(flags.Synthetic.Name)
	switch {
	case path != "" && n > 0:
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", flags.Catalog.Name, flags.Synthetic.Name)
	case path != "":
		return mockengine.LoadCatalog(path)
	case n > 0:
		return mockengine.SyntheticCatalog(ctx.String(flags.SyntheticSource.Name), n), nil
	default:
		return nil, fmt.Errorf("one of --%s or --%s is required", flags.Catalog.Name, flags.Synthetic.Name)
	}
}
