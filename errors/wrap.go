package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a structured Error, the wrapper keeps its classification.
// Otherwise, it creates a new Internal error wrapping the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		wrapped := &Error{
			code:      structured.code,
			category:  structured.category,
			message:   message,
			cause:     err,
			metadata:  structured.Metadata(),
			retryable: structured.retryable,
			address:   structured.address,
			topic:     structured.topic,
			timestamp: structured.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsStructured attempts to extract a structured Error from an error chain.
// Returns nil if none is found.
func AsStructured(err error) StructuredError {
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return nil
}

// Coded is implemented by errors that carry an ErrorCode without being an
// *Error, such as errors rebuilt from another process.
type Coded interface {
	Code() ErrorCode
}

// Is checks if the first coded error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code && code != ""
}

// firstCode walks the chain (including joined errors) depth first and
// returns the first non-empty code.
func firstCode(err error, depth int) ErrorCode {
	if err == nil || depth > 64 {
		return ""
	}
	if coded, ok := err.(Coded); ok && coded.Code() != "" {
		return coded.Code()
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if c := firstCode(inner, depth+1); c != "" {
				return c
			}
		}
	case interface{ Unwrap() error }:
		return firstCode(u.Unwrap(), depth+1)
	}
	return ""
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Retryable()
	}
	return false
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}

// IsInternal checks if the error is an internal error.
func IsInternal(err error) bool {
	return IsCategory(err, CategoryInternal)
}

// Code extracts the error code from an error, if available.
// Returns empty string if err carries no code.
func Code(err error) ErrorCode {
	return firstCode(err, 0)
}

// Join combines multiple errors into a single error.
// If all errors are nil, returns nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
