package attach

import (
	"errors"
	"fmt"
)

// Attachment errors.
var (
	// ErrAlreadyHeld reports that the resource an action tried to acquire is
	// already held by another owner. The resource is in the desired state, so
	// a TransitionController treats this error as success.
	ErrAlreadyHeld = errors.New("resource already held elsewhere")

	// ErrInterestUnderflow reports a release without a matching acquire.
	ErrInterestUnderflow = errors.New("interest released more times than acquired")

	// ErrCommandSuperseded is returned to a command that was still waiting
	// for the attachment when a newer command replaced it.
	ErrCommandSuperseded = errors.New("command superseded by a newer request")

	// ErrClosed is returned by operations on a closed Orchestrator.
	ErrClosed = errors.New("orchestrator closed")
)

// ActionError describes a failed activate or deactivate action.
type ActionError struct {
	Controller string // Controller name (e.g., "attachment", "stream")
	Op         string // "activate" or "deactivate"
	Err        error  // Error returned by the action
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Controller, e.Op, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsAlreadyHeld reports whether err means the resource is held elsewhere.
func IsAlreadyHeld(err error) bool {
	return errors.Is(err, ErrAlreadyHeld)
}
