package flags

import (
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	for name, set := range map[string][]cli.Flag{"main": Flags, "mock-engine": MockEngineFlags} {
		seenCLI := make(map[string]struct{})
		for _, flag := range set {
			flagName := flag.Names()[0]
			if _, ok := seenCLI[flagName]; ok {
				t.Errorf("duplicate %s flag %s", name, flagName)
				continue
			}
			seenCLI[flagName] = struct{}{}
		}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range append(append([]cli.Flag{}, Flags...), MockEngineFlags...) {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")

			switch flagName {
			case Listen.Name, Catalog.Name, Synthetic.Name:
				require.Equal(t, opservice.FlagNameToEnvVarName("mock."+flagName, EnvVarPrefix), envFlags[0])
			case SyntheticSource.Name:
				require.Equal(t, "OP_TESTSPLIT_MOCK_SYNTHETIC_ARTIFACT", envFlags[0])
			default:
				require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
			}
		})
	}
}

func TestCheckRequired(t *testing.T) {
	testCases := []struct {
		name        string
		args        []string
		shouldError bool
	}{
		{"all required set", []string{"app", "--engine", "/tmp/engine.ipc", "--artifact", "a.dll"}, false},
		{"repeated artifacts", []string{"app", "--engine", "ws://localhost:1", "--artifact", "a.dll", "--artifact", "b.dll"}, false},
		{"missing artifact", []string{"app", "--engine", "/tmp/engine.ipc"}, true},
		{"missing engine", []string{"app", "--artifact", "a.dll"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var checkErr error
			app := &cli.App{
				Flags: []cli.Flag{Engine, Artifacts},
				Action: func(ctx *cli.Context) error {
					checkErr = CheckRequired(ctx)
					return nil
				},
			}
			require.NoError(t, app.Run(tc.args))
			if tc.shouldError {
				assert.Error(t, checkErr)
			} else {
				assert.NoError(t, checkErr)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, "all", ctx.String(Mode.Name))
			assert.Equal(t, "halves", ctx.String(Partition.Name))
			assert.Equal(t, 2, ctx.Int(Batches.Name))
			assert.True(t, ctx.Bool(Dedupe.Name))
			assert.False(t, ctx.Bool(ReuseCollectors.Name))
			assert.Equal(t, "100ms", ctx.Duration(DebounceWindow.Name).String())
			assert.Equal(t, "1m30s", ctx.Duration(ConnectionTimeout.Name).String())
			assert.Equal(t, []string{"a.dll", "b.dll"}, ctx.StringSlice(Artifacts.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app", "--engine", "/tmp/engine.ipc", "--artifact", "a.dll", "--artifact", "b.dll"}))
}
