// Package errors provides a structured error system for the SMACC cache engine with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Caller-visible errors
	ErrCodeObjectNotFound      ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeRangeNotSatisfiable ErrorCode = "RANGE_NOT_SATISFIABLE"
	ErrCodeWriteAborted        ErrorCode = "WRITE_ABORTED"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeUnknownPolicy ErrorCode = "UNKNOWN_POLICY"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"
	ErrCodeCorruptEntry ErrorCode = "CORRUPT_ENTRY"
	ErrCodeUnavailable  ErrorCode = "STORAGE_UNAVAILABLE"

	// State errors
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"
	ErrCodeObjectExists       ErrorCode = "OBJECT_EXISTS"

	// Resource errors
	ErrCodeQueueFull     ErrorCode = "QUEUE_FULL"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryRequest       ErrorCategory = "request"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryState         ErrorCategory = "state"
	CategoryResource      ErrorCategory = "resource"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinel errors for errors.Is comparisons. Matching is by code only.
var (
	ErrNotFound            = &CacheError{Code: ErrCodeObjectNotFound}
	ErrRangeNotSatisfiable = &CacheError{Code: ErrCodeRangeNotSatisfiable}
	ErrWriteAborted        = &CacheError{Code: ErrCodeWriteAborted}
	ErrInvalidState        = &CacheError{Code: ErrCodeInvalidState}
	ErrExists              = &CacheError{Code: ErrCodeObjectExists}
	ErrShutdown            = &CacheError{Code: ErrCodeShutdownInProgress}
	ErrQueueFull           = &CacheError{Code: ErrCodeQueueFull}
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// UserFacing marks the errors a caller of the engine is expected to handle.
	UserFacing bool `json:"user_facing"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new cache error with default values.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Newf creates a new cache error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new cache error with the given cause.
func Wrap(cause error, code ErrorCode, message string) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeObjectNotFound, ErrCodeRangeNotSatisfiable, ErrCodeWriteAborted:
		return CategoryRequest
	case ErrCodeInvalidConfig, ErrCodeUnknownPolicy:
		return CategoryConfiguration
	case ErrCodeStorageRead, ErrCodeStorageWrite, ErrCodeCorruptEntry, ErrCodeUnavailable:
		return CategoryStorage
	case ErrCodeInvalidState, ErrCodeShutdownInProgress, ErrCodeObjectExists:
		return CategoryState
	case ErrCodeQueueFull:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// IsUserFacingByDefault determines if an error should be shown to callers.
func IsUserFacingByDefault(code ErrorCode) bool {
	return GetCategory(code) == CategoryRequest || GetCategory(code) == CategoryConfiguration
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var cacheErr *CacheError
	for err != nil {
		if stderrors.As(err, &cacheErr) {
			if cacheErr.Code == code {
				return true
			}
			err = cacheErr.Cause
			continue
		}
		return false
	}
	return false
}

// WithContext adds contextual information to an error
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// NotFound builds an OBJECT_NOT_FOUND error for a bucket and key.
func NotFound(bucket, key string) *CacheError {
	return Newf(ErrCodeObjectNotFound, "object %s/%s not found", bucket, key).
		WithContext("bucket", bucket).
		WithContext("key", key)
}

// RangeNotSatisfiable builds a RANGE_NOT_SATISFIABLE error for a byte range.
func RangeNotSatisfiable(bucket, key string, start, stop int64) *CacheError {
	return Newf(ErrCodeRangeNotSatisfiable, "range %d-%d of %s/%s is not available", start, stop, bucket, key).
		WithContext("bucket", bucket).
		WithContext("key", key).
		WithDetail("start", start).
		WithDetail("stop", stop)
}
