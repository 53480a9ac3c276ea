package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of engine error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the job id does not exist.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeInvalidTransition indicates a requested status change is not allowed.
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	// ErrCodeHandler indicates a job type handler returned an error or panicked.
	ErrCodeHandler ErrorCode = "handler_error"
	// ErrCodeRetryExhausted signals that a failed job has no retries left.
	ErrCodeRetryExhausted ErrorCode = "retry_exhausted"
	// ErrCodePersistenceConflict indicates a save was rejected because the record changed since it was read.
	ErrCodePersistenceConflict ErrorCode = "persistence_conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured engine error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// TransitionError identifies the current and requested status of a rejected transition.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move job from %s to %s", e.From, e.To)
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidTransition creates an error for a status change that the state machine rejects.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidTransition,
		Message: "invalid transition",
		Cause:   &TransitionError{From: from, To: to},
	}
}

// Handler wraps an error produced by a job type handler.
func Handler(cause error) *AppError {
	if cause == nil {
		return nil
	}
	return &AppError{
		Code:    ErrCodeHandler,
		Message: "handler failed",
		Cause:   cause,
	}
}

// RetryExhausted creates the informational signal raised when a job fails with no retries left.
func RetryExhausted(jobID string, retries int) *AppError {
	return &AppError{
		Code:    ErrCodeRetryExhausted,
		Message: fmt.Sprintf("job %s exhausted %d retries", jobID, retries),
	}
}

// Conflictf creates a new PersistenceConflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodePersistenceConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsInvalidTransition checks if an error is an InvalidTransition error.
func IsInvalidTransition(err error) bool {
	return isCode(err, ErrCodeInvalidTransition)
}

// IsHandler checks if an error is a HandlerError.
func IsHandler(err error) bool {
	return isCode(err, ErrCodeHandler)
}

// IsRetryExhausted checks if an error is a RetryExhausted signal.
func IsRetryExhausted(err error) bool {
	return isCode(err, ErrCodeRetryExhausted)
}

// IsConflict checks if an error is a PersistenceConflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodePersistenceConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Transition extracts the rejected transition from an InvalidTransition error.
func Transition(err error) (*TransitionError, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
