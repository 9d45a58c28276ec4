package errors

import (
	"context"
	"errors"
	"fmt"
)

// RunError is the error type surfaced by the run hub, the iperf runner and
// the API handlers. Code is a stable machine-readable string; RunID carries
// the correlation id when the error is tied to a specific run.
type RunError struct {
	Code    string
	Message string
	Cause   error
	RunID   string
}

func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error { return e.Cause }

const (
	ErrCodeRunNotFound      = "RUN_NOT_FOUND"
	ErrCodeRunActive        = "RUN_ACTIVE"
	ErrCodeInvalidConfig    = "INVALID_CONFIG"
	ErrCodeSpawnFailed      = "SPAWN_FAILED"
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCancelled        = "CANCELLED"
)

func ErrRunNotFound(runID string) *RunError {
	return &RunError{
		Code:    ErrCodeRunNotFound,
		Message: "run not found",
		RunID:   runID,
	}
}

func ErrRunActive(runID string) *RunError {
	return &RunError{
		Code:    ErrCodeRunActive,
		Message: "a test run is already active",
		RunID:   runID,
	}
}

func ErrInvalidConfig(msg string, cause error) *RunError {
	return &RunError{
		Code:    ErrCodeInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

func ErrSpawnFailed(msg string, cause error) *RunError {
	return &RunError{
		Code:    ErrCodeSpawnFailed,
		Message: msg,
		Cause:   cause,
	}
}

func ErrConnectionFailed(msg string, cause error) *RunError {
	return &RunError{
		Code:    ErrCodeConnectionFailed,
		Message: msg,
		Cause:   cause,
	}
}

func ErrTimeout(msg string, runID string) *RunError {
	return &RunError{
		Code:    ErrCodeTimeout,
		Message: msg,
		RunID:   runID,
	}
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
