package testsplit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testsplit/flags"
	"github.com/ethereum-optimism/infra/op-testsplit/runner"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// parseConfig runs NewConfig against the given command line
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var cfg *Config
	var cfgErr error
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
			return nil
		},
	}
	if err := app.Run(append([]string{"op-testsplit"}, args...)); err != nil {
		return nil, err
	}
	return cfg, cfgErr
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(t, "--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--artifact", "b.dll")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/engine.ipc", cfg.Endpoint)
	assert.Equal(t, []string{"a.dll", "b.dll"}, cfg.Artifacts)
	assert.Equal(t, types.DefaultRunSettings, cfg.Settings)
	assert.Equal(t, runner.AllModes, cfg.Modes)
	assert.Equal(t, "halves", cfg.Policy.Name())
	assert.Equal(t, 100*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, 90*time.Second, cfg.ConnectionTimeout)
	assert.True(t, cfg.Dedupe)
	assert.True(t, filepath.IsAbs(cfg.LogDir))
	assert.Empty(t, cfg.EngineLogFile)
	assert.Empty(t, cfg.Service.MetricsAddr)
}

func TestNewConfig_Options(t *testing.T) {
	dir := t.TempDir()
	settingsFile := filepath.Join(dir, "run.settings")
	require.NoError(t, os.WriteFile(settingsFile, []byte("<RunSettings><Parallel>false</Parallel></RunSettings>"), 0644))

	cfg, err := parseConfig(t,
		"--engine", "ws://127.0.0.1:9000",
		"--artifact", "a.dll",
		"--settings", settingsFile,
		"--mode", "async",
		"--partition", "chunks",
		"--batches", "4",
		"--issue-interval", "250ms",
		"--dedupe=false",
		"--engine-log-file", "engine.log",
		"--metrics.enabled",
		"--metrics.port", "7301",
	)
	require.NoError(t, err)

	assert.Equal(t, "<RunSettings><Parallel>false</Parallel></RunSettings>", cfg.Settings)
	assert.Equal(t, []runner.Mode{runner.ModeAsync}, cfg.Modes)
	assert.Equal(t, "chunks(4)", cfg.Policy.Name())
	assert.Equal(t, 250*time.Millisecond, cfg.IssueInterval)
	assert.False(t, cfg.Dedupe)
	assert.True(t, filepath.IsAbs(cfg.EngineLogFile))
	assert.Equal(t, "0.0.0.0:7301", cfg.Service.MetricsAddr)
}

func TestNewConfig_PartitionFile(t *testing.T) {
	policyFile := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte("policy: single-tail\noffset: 3\n"), 0644))

	cfg, err := parseConfig(t,
		"--engine", "/tmp/engine.ipc",
		"--artifact", "a.dll",
		"--partition", "chunks",
		"--partition-config", policyFile,
	)
	require.NoError(t, err)
	assert.Equal(t, "single-tail(3)", cfg.Policy.Name())
}

func TestNewConfig_Invalid(t *testing.T) {
	emptySettings := filepath.Join(t.TempDir(), "empty.settings")
	require.NoError(t, os.WriteFile(emptySettings, []byte("  \n"), 0644))

	testCases := []struct {
		name string
		args []string
	}{
		{"missing artifact", []string{"--engine", "/tmp/engine.ipc"}},
		{"artifact with surrounding whitespace", []string{"--engine", "/tmp/engine.ipc", "--artifact", " a.dll"}},
		{"unknown mode", []string{"--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--mode", "turbo"}},
		{"unknown policy", []string{"--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--partition", "random"}},
		{"zero chunks", []string{"--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--partition", "chunks", "--batches", "0"}},
		{"empty settings", []string{"--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--settings", emptySettings}},
		{"missing settings", []string{"--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--settings", "/nonexistent/run.settings"}},
		{"missing partition file", []string{"--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--partition-config", "/nonexistent/policy.yaml"}},
		{"negative run timeout", []string{"--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--run-timeout", "-1s"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(t, tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestCheck_RequiresPolicy(t *testing.T) {
	cfg := testConfig(t, "/tmp/engine.ipc", runner.ModeSequential)
	require.NoError(t, cfg.Check())

	cfg.Policy = nil
	assert.ErrorContains(t, cfg.Check(), "partition policy is required")
}
