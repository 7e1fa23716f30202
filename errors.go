package testsplit

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
)

// RuntimeError means the orchestration could not produce trustworthy results at all:
// the engine went away, broke the notification protocol, or the run was never set up.
// It maps to exit code 2.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Kind names the engine failure behind the error, or "setup" when the engine was not involved
func (e *RuntimeError) Kind() string {
	switch {
	case engine.IsUnreachable(e.Err):
		return "engine-unreachable"
	case engine.IsProtocolError(e.Err):
		return "engine-protocol"
	case engine.IsSequenceError(e.Err):
		return "engine-sequence"
	default:
		return "setup"
	}
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError reports whether err wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError means every mode ran to the end but the collected outcomes cannot be
// accepted, either because tests failed or because batches were flagged as possibly
// coalesced by the engine. It maps to exit code 1.
type TestFailureError struct {
	Message   string
	Ambiguous bool // At least one mode could not attribute its outcomes reliably
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError reports whether err wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
