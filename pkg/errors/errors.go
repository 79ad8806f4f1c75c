package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents missing fact/entity references
	ErrorTypeNotFound ErrorType = "notfound"
	// ErrorTypeAmbiguous represents ambiguous entity resolutions
	ErrorTypeAmbiguous ErrorType = "ambiguous"
	// ErrorTypeWriteFailed represents multi-store write failures
	ErrorTypeWriteFailed ErrorType = "writefailed"
	// ErrorTypeIndex represents similarity index errors
	ErrorTypeIndex ErrorType = "index"
	// ErrorTypeGraph represents graph store errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrValidation is returned when input is rejected before any store is touched
type ErrValidation struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Not Found Errors

// ErrFactNotFound is returned when a fact id does not exist for the user
type ErrFactNotFound struct {
	*BaseError
	UserID string
	FactID string
}

func NewFactNotFound(userID, factID string) *ErrFactNotFound {
	return &ErrFactNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("fact not found: %s", factID), nil),
		UserID:    userID,
		FactID:    factID,
	}
}

// ErrEntityNotFound is returned when a canonical id does not exist for the user
type ErrEntityNotFound struct {
	*BaseError
	UserID      string
	CanonicalID string
}

func NewEntityNotFound(userID, canonicalID string) *ErrEntityNotFound {
	return &ErrEntityNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("entity not found: %s", canonicalID), nil),
		UserID:      userID,
		CanonicalID: canonicalID,
	}
}

// ErrNodeNotFound is returned when a graph node does not exist
type ErrNodeNotFound struct {
	*BaseError
	NodeID string
}

func NewNodeNotFound(nodeID string) *ErrNodeNotFound {
	return &ErrNodeNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("node not found: %s", nodeID), nil),
		NodeID:    nodeID,
	}
}

// Resolution Errors

// ErrAmbiguousMatch is returned by strict resolution when several entities
// plausibly match and the caller must disambiguate
type ErrAmbiguousMatch struct {
	*BaseError
	UserID     string
	Name       string
	Candidates []string
}

func NewAmbiguousMatch(userID, name string, candidates []string) *ErrAmbiguousMatch {
	return &ErrAmbiguousMatch{
		BaseError:  NewBaseError(ErrorTypeAmbiguous, fmt.Sprintf("ambiguous match for %q: %d candidates", name, len(candidates)), nil),
		UserID:     userID,
		Name:       name,
		Candidates: candidates,
	}
}

// Write Errors

// ErrWriteFailed is returned when a multi-store write fails after validation.
// Compensation has already been applied: no partial write is observable.
type ErrWriteFailed struct {
	*BaseError
	Operation string
	Step      string
}

func NewWriteFailed(operation, step string, err error) *ErrWriteFailed {
	return &ErrWriteFailed{
		BaseError: NewBaseError(ErrorTypeWriteFailed, fmt.Sprintf("write failed during %s at step %s", operation, step), err),
		Operation: operation,
		Step:      step,
	}
}

// Index Errors

// ErrIndexUnavailable is returned when the similarity index cannot be reached.
// Read paths degrade on this error rather than surfacing it to the caller.
type ErrIndexUnavailable struct {
	*BaseError
}

func NewIndexUnavailable(err error) *ErrIndexUnavailable {
	return &ErrIndexUnavailable{
		BaseError: NewBaseError(ErrorTypeIndex, "similarity index unavailable", err),
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when the Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Query string
}

func NewGraphQueryFailed(query string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("query failed: %s", query), err),
		Query:     query,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Context Errors

// ErrContextTimeout is returned when an operation exceeds its deadline
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if baseErr, ok := err.(*BaseError); ok {
		return baseErr.Type == errType
	}
	if typed, ok := err.(interface{ base() *BaseError }); ok {
		return typed.base().Type == errType
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		return IsErrorType(wrapped.Unwrap(), errType)
	}
	return false
}

func (e *BaseError) base() *BaseError { return e }

// IsRetryable checks if an error is worth a bounded retry by the coordinator.
// Validation and context errors are never retried; transient store failures are.
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeValidation) {
		return false
	}
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	if IsErrorType(err, ErrorTypeNotFound) {
		return false
	}
	if IsErrorType(err, ErrorTypeGraph) {
		return true
	}
	if IsErrorType(err, ErrorTypeIndex) {
		return true
	}
	return false
}
