package attach

// Permission records whether the user allows the attachment.
type Permission int

const (
	// PermissionUnknown means the user has not decided yet.
	PermissionUnknown Permission = iota
	// PermissionTemporary means the user allowed the attachment for this run.
	PermissionTemporary
	// PermissionRejected means the user refused. It is terminal.
	PermissionRejected
)

// String returns a string representation of the permission.
func (p Permission) String() string {
	switch p {
	case PermissionUnknown:
		return "unknown"
	case PermissionTemporary:
		return "temporary"
	case PermissionRejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// PermissionGate is the tri-state permission flag.
//
// The only legal transitions are Unknown → Temporary and anything → Rejected.
type PermissionGate struct {
	cell *Cell[Permission]
}

// NewPermissionGate creates a gate in the Unknown state.
func NewPermissionGate() *PermissionGate {
	return &PermissionGate{cell: NewCell(PermissionUnknown)}
}

// Get returns the current permission.
func (g *PermissionGate) Get() Permission {
	return g.cell.Get()
}

// GrantTemporary moves Unknown to Temporary. It does nothing in any other
// state, including Rejected.
func (g *PermissionGate) GrantTemporary() bool {
	if g.cell.Get() != PermissionUnknown {
		return false
	}
	return g.cell.Set(PermissionTemporary)
}

// Reject moves the gate to Rejected.
func (g *PermissionGate) Reject() bool {
	return g.cell.Set(PermissionRejected)
}

// Subscribe registers fn for permission changes.
func (g *PermissionGate) Subscribe(fn func(Permission)) func() {
	return g.cell.Subscribe(fn)
}
