package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrTimeout      = errors.New("timeout")
)

// Specific errors.
var (
	ErrLayerNotFound     = fmt.Errorf("layer: %w", ErrNotFound)
	ErrInvalidCoordinate = fmt.Errorf("coordinate: %w", ErrInvalidInput)
	ErrDataDirectory     = fmt.Errorf("data directory: %w", ErrInvalidInput)
	ErrWorkerNotReady    = fmt.Errorf("worker not ready: %w", ErrUnavailable)
	ErrTerminated        = fmt.Errorf("workers terminated: %w", ErrUnavailable)
	ErrLookupTimeout     = fmt.Errorf("lookup: %w", ErrTimeout)
	ErrStartupTimeout    = fmt.Errorf("worker startup: %w", ErrTimeout)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidCoordinate
}

// WorkerError represents a failure of a layer worker.
type WorkerError struct {
	Layer string // Layer the worker serves
	Op    string // Operation that failed (launch, load, send)
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: %s: %v", e.Layer, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *WorkerError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during dataset storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
