package domain

import "fmt"

// Error types for consistent error handling across the session driver
// and its backends.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates the gateway rejected our credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrNoPassport indicates an operation on a blz/user pair that was never
// registered with AddPassport.
type ErrNoPassport struct {
	BLZ    string
	UserID string
}

func (e *ErrNoPassport) Error() string {
	return fmt.Sprintf("no passport registered for %s", PassportKey(e.BLZ, e.UserID))
}

// ErrJobFailed indicates the backend executed a job but reported it as not OK.
type ErrJobFailed struct {
	Job    string
	Reason string
}

func (e *ErrJobFailed) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s failed", e.Job)
	}
	return fmt.Sprintf("job %s failed: %s", e.Job, e.Reason)
}

// ErrInteractionAborted indicates the backend gave up on an operation
// because a callback was not answered usefully.
type ErrInteractionAborted struct {
	Reason  Reason
	Message string
}

func (e *ErrInteractionAborted) Error() string {
	return fmt.Sprintf("interaction aborted at %s: %s", e.Reason, e.Message)
}

// ErrContextBusy indicates a banking context was re-entered while an
// operation was still running on it.
type ErrContextBusy struct {
	Operation string
}

func (e *ErrContextBusy) Error() string {
	return fmt.Sprintf("banking context busy, cannot start %s", e.Operation)
}
