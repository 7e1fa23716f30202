package testsplit

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-testsplit/flags"
	"github.com/ethereum-optimism/infra/op-testsplit/partition"
	"github.com/ethereum-optimism/infra/op-testsplit/runner"
	"github.com/ethereum-optimism/infra/op-testsplit/service"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// Config holds the application configuration
type Config struct {
	Endpoint          string   // Engine endpoint
	EngineCmd         string   // Engine executable to launch, empty = connect to a running engine
	EngineArgs        []string // Arguments of the launched engine
	ConnectionTimeout time.Duration
	Artifacts         []string // Test artifacts to discover tests from
	Settings          string   // Settings document sent with every request
	Modes             []runner.Mode
	Policy            partition.Policy
	DebounceWindow    time.Duration
	IssueInterval     time.Duration
	RunTimeout        time.Duration
	Dedupe            bool   // Drop duplicate discovered test ids
	ReuseCollectors   bool   // Reuse one collector per batch across modes
	ShowOutcomes      bool   // Print a table row per outcome
	LogDir            string // Directory receiving testrun-<id> output directories
	EngineLogFile     string // Engine diagnostic log, empty = engine.log in the run directory
	Service           service.Config
	Stdout            io.Writer // Destination of the results tables, nil = os.Stdout
	Log               log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	endpoint := strings.TrimSpace(ctx.String(flags.Engine.Name))
	if endpoint == "" {
		return nil, errors.New("engine endpoint is required")
	}

	artifacts := ctx.StringSlice(flags.Artifacts.Name)
	if err := validateArtifacts(artifacts); err != nil {
		return nil, err
	}

	settings, err := readSettings(ctx.String(flags.Settings.Name))
	if err != nil {
		return nil, err
	}

	modes, err := runner.ParseModes(ctx.String(flags.Mode.Name))
	if err != nil {
		return nil, err
	}

	policy, err := resolvePolicy(
		ctx.String(flags.PartitionConfig.Name),
		ctx.String(flags.Partition.Name),
		partition.Params{
			Batches: ctx.Int(flags.Batches.Name),
			Offset:  ctx.Int(flags.Offset.Name),
		},
	)
	if err != nil {
		return nil, err
	}

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	absLogDir, err := filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	var engineLogFile string
	if p := ctx.String(flags.EngineLogFile.Name); p != "" {
		engineLogFile, err = filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for engine log file '%s': %w", p, err)
		}
	}

	svcCfg := service.Config{HealthzAddr: ctx.String(flags.HealthzAddr.Name)}
	if metricsCfg := opmetrics.ReadCLIConfig(ctx); metricsCfg.Enabled {
		svcCfg.MetricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	}

	cfg := &Config{
		Endpoint:          endpoint,
		EngineCmd:         ctx.String(flags.EngineCmd.Name),
		EngineArgs:        ctx.StringSlice(flags.EngineArgs.Name),
		ConnectionTimeout: ctx.Duration(flags.ConnectionTimeout.Name),
		Artifacts:         artifacts,
		Settings:          settings,
		Modes:             modes,
		Policy:            policy,
		DebounceWindow:    ctx.Duration(flags.DebounceWindow.Name),
		IssueInterval:     ctx.Duration(flags.IssueInterval.Name),
		RunTimeout:        ctx.Duration(flags.RunTimeout.Name),
		Dedupe:            ctx.Bool(flags.Dedupe.Name),
		ReuseCollectors:   ctx.Bool(flags.ReuseCollectors.Name),
		ShowOutcomes:      ctx.Bool(flags.ShowOutcomes.Name),
		LogDir:            absLogDir,
		EngineLogFile:     engineLogFile,
		Service:           svcCfg,
		Log:               log,
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates a Config built by hand or by NewConfig
func (c *Config) Check() error {
	if c.Endpoint == "" {
		return errors.New("engine endpoint is required")
	}
	if err := validateArtifacts(c.Artifacts); err != nil {
		return err
	}
	if strings.TrimSpace(c.Settings) == "" {
		return errors.New("settings document cannot be empty")
	}
	if len(c.Modes) == 0 {
		return errors.New("at least one mode is required")
	}
	if c.Policy == nil {
		return errors.New("partition policy is required")
	}
	if c.ConnectionTimeout < 0 || c.DebounceWindow < 0 || c.IssueInterval < 0 || c.RunTimeout < 0 {
		return errors.New("durations cannot be negative")
	}
	if c.LogDir == "" {
		return errors.New("log directory is required")
	}
	if c.Log == nil {
		return errors.New("logger is required")
	}
	return nil
}

func validateArtifacts(artifacts []string) error {
	if len(artifacts) == 0 {
		return errors.New("at least one artifact is required")
	}
	for _, a := range artifacts {
		if a == "" || strings.TrimSpace(a) != a {
			return fmt.Errorf("invalid artifact path %q", a)
		}
	}
	return nil
}

// readSettings loads the settings document. Without a path the default document is used.
func readSettings(path string) (string, error) {
	if path == "" {
		return types.DefaultRunSettings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read settings file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("settings file %s is empty", path)
	}
	return string(data), nil
}

func resolvePolicy(configFile, name string, params partition.Params) (partition.Policy, error) {
	if configFile != "" {
		policy, err := partition.LoadPolicyFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load partition config: %w", err)
		}
		return policy, nil
	}
	return partition.ByName(name, params)
}
