package clip

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid clip request")
	ErrCanceled       = errors.New("clip canceled")
	ErrTimedOut       = errors.New("clip timed out")
)

// ValidationError rejects a request before any work starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid clip request: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// SetupError reports a failure preparing or submitting the job, before the
// engine produced a result.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("clip setup failed (%s): %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// EngineFailure carries the engine's return code and accumulated log text.
type EngineFailure struct {
	Code int
	Logs string
}

func (e *EngineFailure) Error() string {
	return fmt.Sprintf("engine failed: rc=%d. logs=%s", e.Code, e.Logs)
}

// CanceledError is returned for a Canceled outcome. It matches ErrCanceled,
// and ErrTimedOut as well when the watchdog stopped the job.
type CanceledError struct {
	Reason CancelReason
}

func (e *CanceledError) Error() string {
	return "clip canceled: " + e.Reason.String()
}

func (e *CanceledError) Is(target error) bool {
	switch target {
	case ErrCanceled:
		return true
	case ErrTimedOut:
		return e.Reason == ReasonTimeout
	}
	return false
}

// CancelReason records why a session ended Canceled.
type CancelReason int32

const (
	ReasonNone CancelReason = iota
	ReasonUser
	ReasonTimeout
	ReasonEngine
)

func (r CancelReason) String() string {
	switch r {
	case ReasonUser:
		return "user"
	case ReasonTimeout:
		return "timeout"
	case ReasonEngine:
		return "engine"
	default:
		return "none"
	}
}
