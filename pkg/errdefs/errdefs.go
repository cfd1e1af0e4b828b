package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Callers classify failures by wrapping one of these
// with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrInvalidArgument marks a request that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks an addressed entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation invalid in the entity's current state,
	// e.g. cancelling a job that is no longer queued.
	ErrConflict = errors.New("conflict")

	// ErrBusy marks store contention that persisted past the internal retry
	// budget.
	ErrBusy = errors.New("store busy")

	// ErrBridgeUnavailable marks a request that needed the inference bridge
	// while it was starting, crashed, or broken.
	ErrBridgeUnavailable = errors.New("bridge unavailable")

	// ErrPayloadTooLarge marks a request body over the configured cap.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrTimeout marks a bridge call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrPathViolation marks a rejected asset path. This is a bug signal,
	// not an expected user error.
	ErrPathViolation = errors.New("path violation")
)

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func IsInvalidArgument(err error) bool   { return errors.Is(err, ErrInvalidArgument) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }
func IsBusy(err error) bool              { return errors.Is(err, ErrBusy) }
func IsBridgeUnavailable(err error) bool { return errors.Is(err, ErrBridgeUnavailable) }
func IsPayloadTooLarge(err error) bool   { return errors.Is(err, ErrPayloadTooLarge) }
func IsTimeout(err error) bool           { return errors.Is(err, ErrTimeout) }
func IsPathViolation(err error) bool     { return errors.Is(err, ErrPathViolation) }

// HTTPStatus maps an error kind to the status code the API surface returns.
// Unclassified errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInvalidArgument(err), IsConflict(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsPayloadTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case IsBusy(err), IsBridgeUnavailable(err):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error label for the uniform response
// shape {error, message, errorId?}.
func Code(err error) string {
	switch {
	case IsInvalidArgument(err):
		return "invalid_argument"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	case IsBusy(err):
		return "busy"
	case IsBridgeUnavailable(err):
		return "bridge_unavailable"
	case IsPayloadTooLarge(err):
		return "payload_too_large"
	case IsTimeout(err):
		return "timeout"
	case IsPathViolation(err):
		return "path_violation"
	default:
		return "internal"
	}
}
