// Package engine provides shared plumbing for the conversational audio
// engine: error classification used at component boundaries, and the clock
// and timer abstractions that make deferred checks and fade stepping
// explicit, cancellable scheduled tasks.
package engine

import (
	"errors"
	"fmt"
)

// Common error types used across engine components.
var (
	// ErrRecoverable indicates a temporary failure that does not terminate
	// the session. Examples: capture device hiccup, dropped transport frame.
	// The affected data path stops; other components continue.
	ErrRecoverable = errors.New("recoverable engine error")

	// ErrFatal indicates a permanent failure of a data path.
	// Examples: total loss of the audio output device.
	// The session degrades (e.g. to a no-audio state) but does not crash.
	ErrFatal = errors.New("fatal engine error")
)

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error permanently disables a data path.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// ComponentError wraps an error that was caught at a component boundary.
// No error propagates across component boundaries as a panic or return
// value; it is surfaced to the host as an error event carrying one of
// these.
type ComponentError struct {
	Component  string
	Underlying error
	Retryable  bool
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Underlying)
}

func (e *ComponentError) Unwrap() error {
	if e.Retryable {
		return ErrRecoverable
	}
	return ErrFatal
}

// NewRecoverableError creates a recoverable component error.
func NewRecoverableError(component string, underlying error) error {
	return &ComponentError{Component: component, Underlying: underlying, Retryable: true}
}

// NewFatalError creates a fatal component error.
func NewFatalError(component string, underlying error) error {
	return &ComponentError{Component: component, Underlying: underlying, Retryable: false}
}
