package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("engine unreachable: dial unix /tmp/engine.ipc"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
	RecordErrorDetails("discover", errors.New("engine unreachable"))
	RecordErrorDetails("discover", nil)
}

func TestRecordRun(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("recording run metrics panic'd")
		}
	}()

	RecordDiscovery("run-1", 10, 2)
	RecordRunRequest("async")
	RecordOutcome("async", types.OutcomeFailed)
	RecordOutcome("async", types.OutcomeKind("bogus"))
	RecordPossiblyCoalesced("async")
	RecordEngineError("unreachable")
	RecordBatch("run-1", "async", 1, 1500*time.Millisecond)
	RecordMode("run-1", "async", "pass", time.Second)
}
