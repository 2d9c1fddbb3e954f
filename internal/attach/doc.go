// Package attach arbitrates exclusive use of a single debugger attachment
// shared by many independent consumers.
//
// The attachment is expensive to acquire, is acquired and released through
// asynchronous actions that may fail, and may be lost at any time through an
// event outside the package's control. A second resource, the dependent event
// stream, may only be enabled while the attachment is held.
//
// # Architecture
//
// Five state sources feed one orchestrator:
//
//	┌──────────────┐ ┌────────────────┐ ┌────────────┐ ┌────────────────┐ ┌────────────┐
//	│  Permission  │ │ Attach interest│ │ Attach FSM │ │ Stream interest│ │ Stream FSM │
//	└──────┬───────┘ └───────┬────────┘ └─────┬──────┘ └───────┬────────┘ └─────┬──────┘
//	       └─────────────────┴────────┬───────┴─────────────────┴────────────────┘
//	                                  ▼
//	                        ┌───────────────────┐
//	                        │     Snapshot      │  distinct values only
//	                        └─────────┬─────────┘
//	                                  ▼
//	                        ┌───────────────────┐
//	                        │   Policy rules    │──► Activate / Deactivate / ForceState
//	                        └───────────────────┘
//
// Every state source is a [Cell]. The [Orchestrator] subscribes to all of
// them, recomputes the [Snapshot] on each change and runs its policy rules
// whenever the snapshot differs from the previous one. Rule outputs write
// back into the [TransitionController]s, which closes the loop.
//
// # Transition Controllers
//
// A [TransitionController] is a four state machine:
//
//	Inactive ──Activate──► Activating ──ok──► Active
//	    ▲                      │                 │
//	    └────────failure───────┘            Deactivate
//	    ▲                                        ▼
//	    └──────────────ok / failure──────── Deactivating
//
// Activate only starts from Inactive and Deactivate only from Active, so a
// transition already in flight absorbs further requests in the same
// direction. ForceState overwrites the state from anywhere without running
// an action; an action that completes after its state was overwritten is
// ignored.
//
// # Threading
//
// All state lives on a single goroutine owned by the Orchestrator. Public
// methods hand work to that goroutine and wait for it; the asynchronous
// actions run on their own goroutines and post their outcome back. Reactions
// never interleave.
//
// # Usage
//
//	orch := attach.NewOrchestrator(host, attach.Options{Logger: logger})
//	defer orch.Close()
//
//	orch.GrantPermission()
//
//	lease, err := orch.AcquireStream()
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
//	value, err := attach.Issue(ctx, orch, func(ctx context.Context) (string, error) {
//	    return host.Evaluate(ctx, "len(queue)")
//	})
package attach
