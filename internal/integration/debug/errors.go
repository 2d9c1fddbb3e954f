package debug

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAttached is returned for operations that need an attachment.
	ErrNotAttached = errors.New("not attached")

	// ErrNoTarget is returned when a Config names neither an address nor
	// an adapter command.
	ErrNoTarget = errors.New("no debug target configured")

	// ErrCancelled is returned for activations after Cancel.
	ErrCancelled = errors.New("attachment cancelled by user")

	// ErrHostClosed is returned for activations after Close.
	ErrHostClosed = errors.New("host closed")
)

// OperationError reports a failed host operation against a target.
type OperationError struct {
	Op     string // Operation name (e.g., "initialize", "attach", "disconnect")
	Target string // Target of the operation
	Err    error  // Underlying error
}

func (e *OperationError) Error() string {
	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}
