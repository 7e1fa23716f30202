package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrEngineUnreachable is returned when the session cannot be established before the
	// connection timeout or is lost while a request is outstanding
	ErrEngineUnreachable = errors.New("engine unreachable")

	// ErrRunTimeout is returned when a caller-level timeout expires before a run completes.
	// The physical run on the engine side is not stopped.
	ErrRunTimeout = errors.New("run timed out")

	// ErrEmptySettings is returned when a request is issued without a settings document
	ErrEmptySettings = errors.New("settings document must not be empty")

	// ErrClientClosed is returned for requests issued after Close
	ErrClientClosed = errors.New("engine client closed")
)

// ProtocolError is returned when the engine sends a payload the client cannot interpret
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine protocol error in %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("engine protocol error in %s: %s", e.Op, e.Reason)
}

// Unwrap implements the errors.Unwrap interface
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SequenceError is returned when a notification arrives out of the expected order
type SequenceError struct {
	Op     string
	Reason string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("engine sequence error in %s: %s", e.Op, e.Reason)
}

// IsUnreachable checks if the error is or wraps ErrEngineUnreachable
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrEngineUnreachable)
}

// IsProtocolError checks if the error is or wraps a ProtocolError
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return err != nil && errors.As(err, &protoErr)
}

// IsSequenceError checks if the error is or wraps a SequenceError
func IsSequenceError(err error) bool {
	var seqErr *SequenceError
	return err != nil && errors.As(err, &seqErr)
}

// classify maps a transport error onto the engine error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsProtocolError(err) || IsSequenceError(err) || IsUnreachable(err) {
		return err
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ProtocolError{Op: op, Reason: "malformed notification", Err: err}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("engine rejected request (code %d)", rpcErr.ErrorCode()), Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrEngineUnreachable, op, err)
}
