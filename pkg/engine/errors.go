package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies why a provider run failed.
type ErrorClass string

const (
	// ErrorClassResolution indicates the identity no longer maps to a loadable provider.
	ErrorClassResolution ErrorClass = "resolution"

	// ErrorClassExecution indicates construction or generation raised an error.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassInvalidResult indicates the provider reported impossible counts.
	ErrorClassInvalidResult ErrorClass = "invalid_result"

	// ErrorClassDenied indicates the admission policy refused the run.
	ErrorClassDenied ErrorClass = "denied"
)

// ErrProviderNotFound is matched by every resolution failure.
var ErrProviderNotFound = errors.New("provider not found")

// GeneratorError represents a classified provider failure.
type GeneratorError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Identity is the provider that failed, if known.
	Identity Identity `json:"identity,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *GeneratorError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("[%s] %s (provider=%s): %s", e.Class, e.Message, e.Identity, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *GeneratorError) Unwrap() error {
	return e.Err
}

func (e *GeneratorError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is reports whether target is a GeneratorError of the same class and code.
func (e *GeneratorError) Is(target error) bool {
	t, ok := target.(*GeneratorError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewResolutionError creates a resolution error wrapping ErrProviderNotFound
// when err does not already match it.
func NewResolutionError(id Identity, err error) *GeneratorError {
	if err == nil || !errors.Is(err, ErrProviderNotFound) {
		err = errors.Join(ErrProviderNotFound, err)
	}
	return &GeneratorError{
		Class:    ErrorClassResolution,
		Message:  "provider could not be resolved",
		Code:     ErrCodeNotFound,
		Identity: id,
		Err:      err,
	}
}

// NewExecutionError creates an execution error.
func NewExecutionError(id Identity, message string, err error) *GeneratorError {
	return &GeneratorError{
		Class:    ErrorClassExecution,
		Message:  message,
		Code:     ErrCodeProviderFailed,
		Identity: id,
		Err:      err,
	}
}

// NewInvalidResultError creates an error for negative counts.
func NewInvalidResultError(id Identity, counts Counts) *GeneratorError {
	return &GeneratorError{
		Class:    ErrorClassInvalidResult,
		Message:  "provider reported negative counts",
		Code:     ErrCodeInvalidResult,
		Identity: id,
		Err:      fmt.Errorf("created=%d changed=%d", counts.Created, counts.Changed),
	}
}

// NewDeniedError creates an admission denial error.
func NewDeniedError(id Identity, err error) *GeneratorError {
	return &GeneratorError{
		Class:    ErrorClassDenied,
		Message:  "provider run denied by policy",
		Code:     ErrCodePermissionDenied,
		Identity: id,
		Err:      err,
	}
}

// ClassOf returns the class of err, or ErrorClassExecution for unclassified errors.
func ClassOf(err error) ErrorClass {
	var e *GeneratorError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassExecution
}

// IsNotFound returns true if err is a resolution failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProviderNotFound)
}

// IsDenied returns true if err is an admission denial.
func IsDenied(err error) bool {
	var e *GeneratorError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDenied
	}
	return false
}

// Common error codes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeProviderFailed   = "PROVIDER_FAILED"
	ErrCodeInvalidResult    = "INVALID_RESULT"
)
