package attach

import (
	"context"
	"sync"
	"testing"
	"time"
)

const testTimeout = 2 * time.Second

// gatedAction blocks every call until the test supplies its result.
// Calls are completed in the order they started.
type gatedAction struct {
	mu      sync.Mutex
	calls   int
	pending []chan error
	started chan struct{}
}

func newGatedAction() *gatedAction {
	return &gatedAction{
		started: make(chan struct{}, 16),
	}
}

func (a *gatedAction) run(ctx context.Context) error {
	result := make(chan error, 1)
	a.mu.Lock()
	a.calls++
	a.pending = append(a.pending, result)
	a.mu.Unlock()

	a.started <- struct{}{}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *gatedAction) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// waitStarted waits for the next call to begin.
func (a *gatedAction) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-a.started:
	case <-time.After(testTimeout):
		t.Fatal("action was not started")
	}
}

// finish completes the oldest blocked call with err.
func (a *gatedAction) finish(t *testing.T, err error) {
	t.Helper()
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		t.Fatal("no action waiting for a result")
	}
	result := a.pending[0]
	a.pending = a.pending[1:]
	a.mu.Unlock()

	result <- err
}

// fakeActions implements Actions with one gated action per operation.
type fakeActions struct {
	attach, detach, enable, disable *gatedAction
}

func newFakeActions() *fakeActions {
	return &fakeActions{
		attach:  newGatedAction(),
		detach:  newGatedAction(),
		enable:  newGatedAction(),
		disable: newGatedAction(),
	}
}

func (f *fakeActions) ActivateAttachment(ctx context.Context) error {
	return f.attach.run(ctx)
}

func (f *fakeActions) DeactivateAttachment(ctx context.Context) error {
	return f.detach.run(ctx)
}

func (f *fakeActions) ActivateStream(ctx context.Context) error {
	return f.enable.run(ctx)
}

func (f *fakeActions) DeactivateStream(ctx context.Context) error {
	return f.disable.run(ctx)
}

// snapshotRecorder collects every snapshot published by an Orchestrator.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func record(t *testing.T, o *Orchestrator) *snapshotRecorder {
	t.Helper()
	r := &snapshotRecorder{}
	cancel, err := o.Subscribe(func(s Snapshot) {
		r.mu.Lock()
		r.snaps = append(r.snaps, s)
		r.mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(cancel)
	return r
}

func (r *snapshotRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

// attachStates returns the distinct consecutive attachment states seen.
func (r *snapshotRecorder) attachStates() []TransitionState {
	var states []TransitionState
	for _, s := range r.all() {
		if len(states) == 0 || states[len(states)-1] != s.AttachState {
			states = append(states, s.AttachState)
		}
	}
	return states
}

func (r *snapshotRecorder) streamStates() []TransitionState {
	var states []TransitionState
	for _, s := range r.all() {
		if len(states) == 0 || states[len(states)-1] != s.StreamState {
			states = append(states, s.StreamState)
		}
	}
	return states
}

// waitFor polls the orchestrator until cond holds.
func waitFor(t *testing.T, o *Orchestrator, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		s := o.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot: %v", what, s)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeActions) {
	t.Helper()
	actions := newFakeActions()
	o := NewOrchestrator(actions, Options{Target: "test"})
	t.Cleanup(func() { o.Close() })
	return o, actions
}

// attachActive drives a fresh orchestrator to an active attachment and
// returns the attachment lease.
func attachActive(t *testing.T, o *Orchestrator, actions *fakeActions) *Lease {
	t.Helper()
	if err := o.GrantPermission(); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	lease, err := o.AcquireAttachment()
	if err != nil {
		t.Fatalf("AcquireAttachment: %v", err)
	}
	actions.attach.waitStarted(t)
	actions.attach.finish(t, nil)
	waitFor(t, o, "attachment active", func(s Snapshot) bool {
		return s.AttachState == StateActive
	})
	return lease
}

func equalStates(a, b []TransitionState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
