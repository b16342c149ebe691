package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Failure taxonomy. Card and document failures are absorbed into output data
// quality; only batch-fatal and submission errors surface to the operator.
var (
	ErrCardFailed     = errors.New("card extraction failed")
	ErrDocumentFailed = errors.New("document processing failed")
	ErrBatchFatal     = errors.New("batch fatal failure")
	ErrSubmission     = errors.New("invalid batch submission")
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Fatal wraps err so it is recognized as a batch-fatal failure.
func Fatal(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", message, ErrBatchFatal, err)
}

// IsFatal reports whether err halts the batch rather than being absorbed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBatchFatal)
}
