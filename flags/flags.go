package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/partition"
	"github.com/ethereum-optimism/infra/op-testsplit/runner"
)

const EnvVarPrefix = "OP_TESTSPLIT"

var (
	// Required flags are checked by CheckRequired
	Engine = &cli.StringFlag{
		Name:    "engine",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENGINE"),
		Usage:   "Engine endpoint: IPC socket path or ws:// URL (required)",
	}
	Artifacts = &cli.StringSliceFlag{
		Name:    "artifact",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACT"),
		Usage:   "Path of a test artifact to discover tests from. Can be repeated. (required)",
	}
	EngineCmd = &cli.StringFlag{
		Name:    "engine-cmd",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENGINE_CMD"),
		Usage:   "Engine executable to launch before connecting. The endpoint is passed in " + engine.EndpointEnvVar,
	}
	EngineArgs = &cli.StringSliceFlag{
		Name:    "engine-arg",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENGINE_ARG"),
		Usage:   "Argument for the launched engine. Can be repeated.",
	}
	ConnectionTimeout = &cli.DurationFlag{
		Name:    "connection-timeout",
		Value:   engine.DefaultConnectionTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONNECTION_TIMEOUT"),
		Usage:   "How long to wait for an engine session to be established",
	}
	Settings = &cli.StringFlag{
		Name:    "settings",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTINGS"),
		Usage:   "Path to the run settings document sent with every request. Defaults to an empty settings document.",
	}
	Mode = &cli.StringFlag{
		Name:    "mode",
		Value:   runner.ModeAll,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MODE"),
		Usage:   "Execution mode: sequential, parallel, async or all",
	}
	Partition = &cli.StringFlag{
		Name:    "partition",
		Value:   partition.DefaultPolicy,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PARTITION"),
		Usage:   "Partition policy: halves, single-tail, chunks or round-robin",
	}
	PartitionConfig = &cli.StringFlag{
		Name:    "partition-config",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PARTITION_CONFIG"),
		Usage:   "Path to a YAML partition policy file. Takes precedence over --partition.",
	}
	Batches = &cli.IntFlag{
		Name:    "batches",
		Value:   2,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BATCHES"),
		Usage:   "Number of batches for the chunks and round-robin policies",
	}
	Offset = &cli.IntFlag{
		Name:    "offset",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OFFSET"),
		Usage:   "Position of the single test selected by the single-tail policy",
	}
	DebounceWindow = &cli.DurationFlag{
		Name:    "debounce-window",
		Value:   runner.DefaultDebounceWindow,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBOUNCE_WINDOW"),
		Usage:   "Async requests issued closer together than this are flagged as possibly coalesced",
	}
	IssueInterval = &cli.DurationFlag{
		Name:    "issue-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ISSUE_INTERVAL"),
		Usage:   "Minimum spacing between async request issuances. 0 issues back-to-back.",
	}
	RunTimeout = &cli.DurationFlag{
		Name:    "run-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_TIMEOUT"),
		Usage:   "Maximum time to wait for a single run request. 0 waits indefinitely.",
	}
	Dedupe = &cli.BoolFlag{
		Name:    "dedupe",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEDUPE"),
		Usage:   "Drop duplicate test ids reported during discovery",
	}
	ReuseCollectors = &cli.BoolFlag{
		Name:    "reuse-collectors",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REUSE_COLLECTORS"),
		Usage:   "Reuse one result collector per batch across modes, clearing it between modes",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store run summaries and results",
	}
	EngineLogFile = &cli.StringFlag{
		Name:    "engine-log-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENGINE_LOG_FILE"),
		Usage:   "File receiving the engine's diagnostic messages. Defaults to engine.log in the run directory.",
	}
	ShowOutcomes = &cli.BoolFlag{
		Name:    "show-outcomes",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_OUTCOMES"),
		Usage:   "Print one row per test outcome in the results tables",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz server. Empty disables it.",
	}
)

var requiredFlags = []cli.Flag{
	Engine,
	Artifacts,
}

var optionalFlags = []cli.Flag{
	EngineCmd,
	EngineArgs,
	ConnectionTimeout,
	Settings,
	Mode,
	Partition,
	PartitionConfig,
	Batches,
	Offset,
	DebounceWindow,
	IssueInterval,
	RunTimeout,
	Dedupe,
	ReuseCollectors,
	LogDir,
	EngineLogFile,
	ShowOutcomes,
	HealthzAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}

// Mock engine subcommand flags
var (
	Listen = &cli.StringFlag{
		Name:     "listen",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "MOCK_LISTEN"),
		Usage:    "Endpoint to serve on: IPC socket path or ws://host:port",
	}
	Catalog = &cli.StringFlag{
		Name:    "catalog",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MOCK_CATALOG"),
		Usage:   "YAML catalog mapping artifact paths to their tests",
	}
	Synthetic = &cli.IntFlag{
		Name:    "synthetic",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MOCK_SYNTHETIC"),
		Usage:   "Generate this many tests instead of reading a catalog",
	}
	SyntheticSource = &cli.StringFlag{
		Name:    "synthetic.artifact",
		Value:   "tests.artifact",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MOCK_SYNTHETIC_ARTIFACT"),
		Usage:   "Artifact path the synthetic tests are discovered from",
	}
	MockDebounceWindow = &cli.DurationFlag{
		Name:    "mock.debounce-window",
		Value:   200 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MOCK_DEBOUNCE_WINDOW"),
		Usage:   "Run requests arriving within this window are merged into one run. 0 disables merging.",
	}
	MockTestDuration = &cli.DurationFlag{
		Name:    "mock.test-duration",
		Value:   10 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MOCK_TEST_DURATION"),
		Usage:   "Simulated duration of every test",
	}
)

// MockEngineFlags are the flags of the mock-engine subcommand
var MockEngineFlags = []cli.Flag{
	Listen,
	Catalog,
	Synthetic,
	SyntheticSource,
	MockDebounceWindow,
	MockTestDuration,
}
