package attach

import "fmt"

// Snapshot is a combined view of the five state sources.
//
// Snapshots are comparable values. The Orchestrator derives them on demand
// and never treats one as a source of truth.
type Snapshot struct {
	Permission     Permission
	AttachInterest int
	AttachState    TransitionState
	StreamInterest int
	StreamState    TransitionState
}

// WantsAttachment reports whether the attachment should be held.
func (s Snapshot) WantsAttachment() bool {
	return s.Permission == PermissionTemporary && s.AttachInterest > 0
}

// String returns a compact representation for logs.
func (s Snapshot) String() string {
	return fmt.Sprintf("permission=%s attach=%s(%d) stream=%s(%d)",
		s.Permission, s.AttachState, s.AttachInterest, s.StreamState, s.StreamInterest)
}
