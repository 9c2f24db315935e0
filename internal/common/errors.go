package common

import (
	"fmt"
)

// TransportError indicates a realtime channel or network failure.
// Recovered locally via backoff retry, surfaced only as a passive status.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a new TransportError.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// PersistenceError indicates a local storage failure (quota, corrupt data, I/O).
// Callers treat the affected state as absent/unsaved and continue.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error for key '%s': %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(key string, err error) *PersistenceError {
	return &PersistenceError{Key: key, Err: err}
}

// PayloadError indicates a malformed change-event payload.
// The event is dropped with a log entry; other events are unaffected.
type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %s", e.Reason)
}

// NewPayloadError creates a new PayloadError.
func NewPayloadError(reason string) *PayloadError {
	return &PayloadError{Reason: reason}
}

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid input data on the control API.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}
