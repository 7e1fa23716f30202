package runner

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

func tc(id string) types.TestCase {
	return types.TestCase{ID: id}
}

func TestDiscoveryCollector_ArrivalOrder(t *testing.T) {
	c := NewDiscoveryCollector(true, log.NewLogger(log.DiscardHandler()))

	require.NoError(t, c.HandleDiscoveredTests([]types.TestCase{tc("b"), tc("a")}))
	require.NoError(t, c.HandleDiscoveredTests([]types.TestCase{tc("d")}))
	assert.False(t, c.Complete())

	_, err := c.Inventory()
	require.ErrorIs(t, err, ErrDiscoveryIncomplete)

	require.NoError(t, c.HandleDiscoveryComplete(4, []types.TestCase{tc("c")}, false))
	assert.True(t, c.Complete())
	assert.False(t, c.Aborted())
	assert.Equal(t, int64(4), c.TotalReported())
	assert.Equal(t, 3, c.Chunks())

	inv, err := c.Inventory()
	require.NoError(t, err)
	assert.True(t, inv.Frozen())
	assert.Equal(t, []string{"b", "a", "d", "c"}, inv.IDs())
}

func TestDiscoveryCollector_EmptyFinalChunk(t *testing.T) {
	c := NewDiscoveryCollector(true, nil)
	require.NoError(t, c.HandleDiscoveredTests([]types.TestCase{tc("a")}))
	require.NoError(t, c.HandleDiscoveryComplete(1, nil, true))

	inv, err := c.Inventory()
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Len())
	assert.True(t, c.Aborted())
	assert.Equal(t, 1, c.Chunks())
}

func TestDiscoveryCollector_Duplicates(t *testing.T) {
	tests := []struct {
		name   string
		dedupe bool
		want   []string
	}{
		{name: "dedupe", dedupe: true, want: []string{"a", "b"}},
		{name: "append all", dedupe: false, want: []string{"a", "b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDiscoveryCollector(tt.dedupe, log.NewLogger(log.DiscardHandler()))
			require.NoError(t, c.HandleDiscoveredTests([]types.TestCase{tc("a"), tc("b")}))
			require.NoError(t, c.HandleDiscoveryComplete(3, []types.TestCase{tc("a")}, false))

			inv, err := c.Inventory()
			require.NoError(t, err)
			assert.Equal(t, tt.want, inv.IDs())
		})
	}
}

func TestDiscoveryCollector_RejectsAfterTerminal(t *testing.T) {
	c := NewDiscoveryCollector(true, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, c.HandleDiscoveryComplete(1, []types.TestCase{tc("a")}, false))

	err := c.HandleDiscoveredTests([]types.TestCase{tc("late")})
	require.Error(t, err)
	assert.True(t, engine.IsSequenceError(err))

	err = c.HandleDiscoveryComplete(1, nil, false)
	assert.True(t, engine.IsSequenceError(err))

	inv, err := c.Inventory()
	require.NotNil(t, inv)
	assert.True(t, engine.IsSequenceError(err), "violations are surfaced with the inventory")
	assert.Equal(t, []string{"a"}, inv.IDs(), "late tests never reach the inventory")
}
