// Package errors provides the error taxonomy for the zengin mirror sync.
// Typed errors carry enough context for logging and map onto a small set of
// sentinels so callers can branch with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// New is an alias for the standard library errors.New.
var New = errors.New

// Sentinel errors.
var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or missing input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateAction indicates an action replayed against a run that already left pending.
	ErrDuplicateAction = errors.New("duplicate action")

	// ErrTransient indicates a failure that may succeed when retried.
	ErrTransient = errors.New("transient failure")

	// ErrSystemic indicates a failure that aborted a whole batch.
	ErrSystemic = errors.New("systemic failure")

	// ErrLocked indicates that another process holds the lock.
	ErrLocked = errors.New("locked")
)

// NotFoundError represents an error when a resource is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// DuplicateActionError is returned when a run is no longer in the status an action expects.
type DuplicateActionError struct {
	RunID    string
	Status   string
	Expected []string
}

// Error implements the error interface.
func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("run %s already processed (status: %s, expected: %v)", e.RunID, e.Status, e.Expected)
}

// Is implements errors.Is support.
func (e *DuplicateActionError) Is(target error) bool {
	return target == ErrDuplicateAction
}

// NewDuplicateActionError creates a new DuplicateActionError.
func NewDuplicateActionError(runID, status string, expected ...string) *DuplicateActionError {
	return &DuplicateActionError{RunID: runID, Status: status, Expected: expected}
}

// TransientError wraps a failure of an outbound call that may be retried.
type TransientError struct {
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// NewTransientError creates a new TransientError.
func NewTransientError(operation string, err error) *TransientError {
	return &TransientError{Operation: operation, Err: err}
}

// SystemicFailure marks a run that could not be applied as a whole.
type SystemicFailure struct {
	RunID  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *SystemicFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run %s failed: %s: %v", e.RunID, e.Reason, e.Err)
	}
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Reason)
}

// Unwrap implements errors.Unwrap.
func (e *SystemicFailure) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *SystemicFailure) Is(target error) bool {
	return target == ErrSystemic
}

// NewSystemicFailure creates a new SystemicFailure.
func NewSystemicFailure(runID, reason string, err error) *SystemicFailure {
	return &SystemicFailure{RunID: runID, Reason: reason, Err: err}
}

// APIError represents an error returned by a remote API (Slack, source data host).
type APIError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code
		if e.Message != "" {
			msg += ": " + e.Message
		}
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Service, e.StatusCode, msg)
	}
	return fmt.Sprintf("API error from %s: %s", e.Service, msg)
}

// Unwrap implements errors.Unwrap.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support. Rate limits and server errors are transient.
func (e *APIError) Is(target error) bool {
	if target != ErrTransient {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// NewAPIError creates a new APIError.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// ParseError represents an error decoding structured data.
type ParseError struct {
	Format  string
	Source  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("failed to parse %s from %s: %s", e.Format, e.Source, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IOError represents a read or write failure against a blob or file.
type IOError struct {
	Operation string
	Path      string
	Err       error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("IO error during %s on %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *IOError) Unwrap() error {
	return e.Err
}

// ResourceError represents a failed operation on a named resource.
type ResourceError struct {
	Operation string
	Resource  string
	ID        string
	Err       error
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %v", e.Operation, e.Resource, e.ID, e.Err)
	}
	return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Resource, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is an already exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsDuplicateAction reports whether err is a duplicate action error.
func IsDuplicateAction(err error) bool {
	return errors.Is(err, ErrDuplicateAction)
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsSystemic reports whether err aborted a whole batch.
func IsSystemic(err error) bool {
	return errors.Is(err, ErrSystemic)
}

// WrapValidation wraps err as a validation error for field.
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapIO wraps err as an IO error.
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Operation: operation, Path: path, Err: err}
}

// WrapResource wraps err as a resource error.
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return &ResourceError{Operation: operation, Resource: resource, ID: id, Err: err}
}

// WrapParse wraps err as a parse error.
func WrapParse(format, source string, err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{Format: format, Source: source, Message: err.Error(), Err: err}
}

// As is an alias for the standard library errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is an alias for the standard library errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Join is an alias for the standard library errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
