// Package errors provides the error taxonomy shared by the telemetry core.
// It classifies failures as transient (worth retrying), invalid (bad input,
// skip and move on) or fatal (configuration bugs that must stop the caller),
// and offers wrap helpers that attach component/operation context.
package errors

import (
	"errors"
	"fmt"
)

// Class is the handling classification of an error.
type Class int

const (
	// ClassTransient marks temporary failures that may be retried.
	ClassTransient Class = iota
	// ClassInvalid marks per-item failures caused by bad input; the item is
	// skipped, the surrounding loop continues.
	ClassInvalid
	// ClassFatal marks programming or configuration errors that must be
	// surfaced to the caller.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for the core failure surfaces.
var (
	// Transport errors
	ErrConnectionFailed  = errors.New("connection failed")
	ErrNotConnected      = errors.New("not connected")
	ErrAllInterfacesDown = errors.New("all interfaces failed to connect")
	ErrUnknownTopic      = errors.New("topic not recognized by interface")

	// Decode errors
	ErrDecodeFailed = errors.New("frame decode failed")

	// Track errors
	ErrInconsistentFields = errors.New("datapoint field set mismatch")
	ErrUnknownFormat      = errors.New("unknown export format")
	ErrNoDataPoints       = errors.New("no data points available")

	// Persistence errors
	ErrPersistence = errors.New("persistence failed")

	// Registry errors
	ErrValidationFailed = errors.New("track file failed validation")
	ErrTrackNotFound    = errors.New("track not found")

	// Construction errors
	ErrNoDataSource  = errors.New("no data source configured")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClassifiedError wraps an error with its classification and the
// component/operation where it occurred.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error with context following the pattern
// "component.operation: action failed: %w".
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, operation, action, err)
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTransient, Err: Wrap(err, component, operation, action), Component: component, Operation: operation}
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassInvalid, Err: Wrap(err, component, operation, action), Component: component, Operation: operation}
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassFatal, Err: Wrap(err, component, operation, action), Component: component, Operation: operation}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrPersistence)
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}
	return errors.Is(err, ErrDecodeFailed) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInconsistentFields) ||
		errors.Is(err, ErrUnknownTopic) ||
		errors.Is(err, ErrTrackNotFound)
}

// IsFatal reports whether err must stop the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}
	return errors.Is(err, ErrUnknownFormat) ||
		errors.Is(err, ErrNoDataSource) ||
		errors.Is(err, ErrInvalidConfig)
}

// Classify returns the class of err, defaulting to transient for unknown
// errors so callers err on the side of retrying.
func Classify(err error) Class {
	switch {
	case IsFatal(err):
		return ClassFatal
	case IsInvalid(err):
		return ClassInvalid
	default:
		return ClassTransient
	}
}

// Re-exported stdlib helpers so callers only import one errors package.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }
