// Package errors provides structured error types for protoq.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryQuery    ErrorCategory = "QUERY"
	ErrCategoryDecode   ErrorCategory = "DECODE"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeInvalidSchema  = "INVALID_SCHEMA"

	// Query codes
	CodeUnsupportedProjection = "UNSUPPORTED_PROJECTION"
	CodeUnknownField          = "UNKNOWN_FIELD"
	CodeTypeMismatch          = "TYPE_MISMATCH"
	CodeInvalidRestriction    = "INVALID_RESTRICTION"
	CodeEmptySequence         = "EMPTY_SEQUENCE"
	CodeElementNotFound       = "ELEMENT_NOT_FOUND"
	CodeEvaluationFailed      = "EVALUATION_FAILED"
	CodeParseError            = "PARSE_ERROR"

	// Decode codes
	CodeStreamDecode = "STREAM_DECODE"

	// Storage codes
	CodeOpenFailed     = "OPEN_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeObjectExists   = "OBJECT_EXISTS"
	CodeUploadFailed   = "UPLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ProtoqError is the structured error type used throughout the system.
type ProtoqError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ProtoqError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ProtoqError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ProtoqError) Is(target error) bool {
	var t *ProtoqError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ProtoqError.
func New(category ErrorCategory, code, message string) *ProtoqError {
	return &ProtoqError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ProtoqError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ProtoqError {
	return &ProtoqError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ProtoqError) WithDetails(details map[string]interface{}) *ProtoqError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *ProtoqError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ProtoqError.
func GetCategory(err error) ErrorCategory {
	var pe *ProtoqError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ProtoqError.
func GetCode(err error) string {
	var pe *ProtoqError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable reports whether a category/code pair may succeed on retry.
// The query layer reads a trusted local stream and never retries; only
// object storage transport failures qualify.
func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryStorage && code == CodeOpenFailed
}

// Sentinels usable as errors.Is targets; only category and code are compared.
var (
	ErrSchemaMismatch        = New(ErrCategorySchema, CodeSchemaMismatch, "schema mismatch")
	ErrInvalidSchema         = New(ErrCategorySchema, CodeInvalidSchema, "invalid schema")
	ErrUnsupportedProjection = New(ErrCategoryQuery, CodeUnsupportedProjection, "unsupported projection")
	ErrUnknownField          = New(ErrCategoryQuery, CodeUnknownField, "unknown field")
	ErrTypeMismatch          = New(ErrCategoryQuery, CodeTypeMismatch, "type mismatch")
	ErrInvalidRestriction    = New(ErrCategoryQuery, CodeInvalidRestriction, "invalid type restriction")
	ErrEmptySequence         = New(ErrCategoryQuery, CodeEmptySequence, "sequence contains no elements")
	ErrElementNotFound       = New(ErrCategoryQuery, CodeElementNotFound, "element not found")
	ErrEvaluationFailed      = New(ErrCategoryQuery, CodeEvaluationFailed, "evaluation failed")
	ErrParse                 = New(ErrCategoryQuery, CodeParseError, "parse error")
	ErrStreamDecode          = New(ErrCategoryDecode, CodeStreamDecode, "stream decode failed")
)

// Convenience constructors for common errors.

func NewSchemaError(code, message string) *ProtoqError {
	return New(ErrCategorySchema, code, message)
}

func NewQueryError(code, message string) *ProtoqError {
	return New(ErrCategoryQuery, code, message)
}

func NewDecodeError(code, message string, cause error) *ProtoqError {
	return Wrap(ErrCategoryDecode, code, message, cause)
}

func NewStorageError(code, message string, cause error) *ProtoqError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *ProtoqError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
