package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPending is returned when an entity in a batch is not waiting for the requested action.
	ErrNotPending = errors.New("entity is not pending the requested action")
	// ErrInactiveEntity is returned when a completed or cancelled entity is routed or acted on.
	ErrInactiveEntity = errors.New("entity is no longer active")
	// ErrMixedActionMethods is returned when a batch resolves to more than one action method.
	ErrMixedActionMethods = errors.New("batch resolves to more than one action method")
	// ErrNoActionResolved is returned when no entity in a batch resolves to an action method.
	ErrNoActionResolved = errors.New("no action method could be resolved for the batch")
	// ErrUnknownActionMethod is returned when a resolved method has no registered handler.
	ErrUnknownActionMethod = errors.New("unknown action method")
	// ErrEntityNotFound is returned when a requested sample, report option or accession does not exist.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrUnresolvedEntity is returned in strict mode when an entity has no step or action mapping.
	ErrUnresolvedEntity = errors.New("entity could not be resolved to a workflow step")
	// ErrReferenceNotFound is returned when a workflow step or action map lookup misses.
	ErrReferenceNotFound = errors.New("reference data not found")
	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBackwardMovement is returned when a manual reroute targets an earlier step that does not allow it.
	ErrBackwardMovement = errors.New("backward movement not allowed")
)

// ValidationError marks a failure caused by the caller's input rather than by the system.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(err error, format string, args ...any) *ValidationError {
	return &ValidationError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err (or anything it wraps) is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
