// Package debug connects the attachment orchestrator to a real debug
// target through the Debug Adapter Protocol.
//
// Host implements attach.Actions. Activating the attachment opens a
// connection to the debug adapter and attaches to the target; deactivating
// it disconnects without terminating the debuggee. The dependent event
// stream maps to exception breakpoints plus forwarding of stopped and output
// events.
//
//	┌──────────────────────┐    attach.Actions    ┌──────────────┐
//	│ attach.Orchestrator  │ ───────────────────▶ │  debug.Host  │
//	│                      │ ◀─────────────────── │              │
//	└──────────────────────┘   Detached() events  └──────┬───────┘
//	                                                     │ DAP
//	                                                     ▼
//	                                             ┌──────────────┐
//	                                             │ debug adapter│
//	                                             │ (dlv, debugpy│
//	                                             │  js-debug…)  │
//	                                             └──────────────┘
//
// # Detach Events
//
// The host reports an attachment lost outside the orchestrator on
// Detached(): a terminated event from the adapter, the debuggee exiting,
// or the connection dropping. Only the current connection reports; a
// connection the host is already tearing down stays silent.
//
// # Already Attached
//
// An adapter that refuses the attach request because the target is
// already being debugged is reported as attach.ErrAlreadyHeld, which the
// orchestrator treats as a successful activation.
package debug
