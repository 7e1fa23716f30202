package testsplit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
)

func TestRuntimeError(t *testing.T) {
	cause := errors.New("engine gone")
	err := fmt.Errorf("while running: %w", NewRuntimeError(cause))

	assert.True(t, IsRuntimeError(err))
	assert.False(t, IsTestFailureError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "while running: runtime error: engine gone", err.Error())
	assert.False(t, IsRuntimeError(nil))
}

func TestTestFailureError(t *testing.T) {
	err := NewTestFailureError("async mode: 1 failed")

	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
	assert.Equal(t, "test failure: async mode: 1 failed", err.Error())
	assert.False(t, IsTestFailureError(nil))
}

func TestRuntimeError_Kind(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{"unreachable", fmt.Errorf("failed to connect to engine: %w", engine.ErrEngineUnreachable), "engine-unreachable"},
		{"protocol", &engine.ProtocolError{Op: "runTests", Reason: "undecodable results", Err: errors.New("bad payload")}, "engine-protocol"},
		{"sequence", &engine.SequenceError{Op: "runTests", Reason: "results after completion"}, "engine-sequence"},
		{"setup", errors.New("failed to create engine log"), "setup"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var runtimeErr *RuntimeError
			require.ErrorAs(t, fmt.Errorf("wrapped: %w", NewRuntimeError(tc.err)), &runtimeErr)
			assert.Equal(t, tc.want, runtimeErr.Kind())
		})
	}
}
