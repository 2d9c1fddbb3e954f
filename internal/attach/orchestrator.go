package attach

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Actions performs the real work behind the attachment and the dependent
// event stream.
type Actions interface {
	// ActivateAttachment acquires the attachment.
	ActivateAttachment(ctx context.Context) error

	// DeactivateAttachment releases the attachment.
	DeactivateAttachment(ctx context.Context) error

	// ActivateStream enables the event stream. Only called while the
	// attachment is active.
	ActivateStream(ctx context.Context) error

	// DeactivateStream disables the event stream.
	DeactivateStream(ctx context.Context) error
}

// Options configures an Orchestrator.
type Options struct {
	// Target names the attached resource in logs.
	Target string

	// FailureBackoff delays the settling of a failed action. While it runs
	// the controller stays in its intermediate state, which keeps the
	// policy rules from retrying a failing action in a tight loop.
	FailureBackoff time.Duration

	// Logger receives orchestrator logs. Defaults to a discarding logger.
	Logger *slog.Logger
}

// Orchestrator owns the permission gate, both interest counters and both
// transition controllers, and keeps them consistent through three rules:
//
//   - the attachment is active iff permission is Temporary and attach
//     interest is positive
//   - an external detach rejects permission when the user cancelled it, and
//     always forces the attachment Inactive
//   - the stream follows stream interest while the attachment is Active and
//     is forced Inactive otherwise
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	loop   *loop
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	permission     *PermissionGate
	attachInterest *InterestCounter
	streamInterest *InterestCounter
	attach         *TransitionController
	stream         *TransitionController

	// Loop-confined reaction state.
	reacting  bool
	primed    bool
	last      Snapshot
	published *Cell[Snapshot]
	waiter    *commandWaiter

	// current mirrors the last published snapshot for lock-free reads.
	current atomic.Pointer[Snapshot]

	closeOnce sync.Once
}

// NewOrchestrator creates an orchestrator driving the given actions.
// Call Close to stop it.
func NewOrchestrator(actions Actions, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "attach")
	if opts.Target != "" {
		logger = logger.With("target", opts.Target)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		loop:           newLoop(),
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
		permission:     NewPermissionGate(),
		attachInterest: NewInterestCounter(),
		streamInterest: NewInterestCounter(),
		published:      NewCell(Snapshot{}),
	}
	o.attach = NewTransitionController(ControllerConfig{
		Name:       "attachment",
		Activate:   actions.ActivateAttachment,
		Deactivate: actions.DeactivateAttachment,
		Context:    ctx,
		Backoff:    opts.FailureBackoff,
		Logger:     logger,
	}, o.loop)
	o.stream = NewTransitionController(ControllerConfig{
		Name:       "stream",
		Activate:   actions.ActivateStream,
		Deactivate: actions.DeactivateStream,
		Context:    ctx,
		Backoff:    opts.FailureBackoff,
		Logger:     logger,
	}, o.loop)

	// Wire the feedback loop on the loop goroutine so the initial
	// subscription callbacks obey the same confinement as later ones.
	_ = o.loop.do(func() {
		o.mutate(func() {
			o.permission.Subscribe(func(Permission) { o.react() })
			o.attachInterest.Subscribe(func(int) { o.react() })
			o.streamInterest.Subscribe(func(int) { o.react() })
			o.attach.Subscribe(func(TransitionState) { o.react() })
			o.stream.Subscribe(func(TransitionState) { o.react() })
		})
	})

	return o
}

// Close stops the orchestrator. In-flight actions see their context
// cancelled and pending commands fail with ErrClosed. Close does not run the
// deactivate actions; callers that want an orderly release should drop their
// leases first.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		_ = o.loop.do(func() {
			if o.waiter != nil {
				o.waiter.resolve(ErrClosed)
				o.waiter = nil
			}
		})
		o.cancel()
		o.loop.close()
		o.logger.Debug("orchestrator closed")
	})
	return nil
}

// Snapshot returns the most recently published snapshot.
func (o *Orchestrator) Snapshot() Snapshot {
	if s := o.current.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Subscribe registers fn for distinct snapshots. fn is called immediately
// with the current snapshot. It runs on the orchestrator goroutine and must
// neither block nor call back into the Orchestrator.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (cancel func(), err error) {
	var inner func()
	if err := o.loop.do(func() {
		inner = o.published.Subscribe(fn)
	}); err != nil {
		return func() {}, err
	}

	return func() {
		_ = o.loop.do(inner)
	}, nil
}

// GrantPermission moves the permission from Unknown to Temporary.
func (o *Orchestrator) GrantPermission() error {
	return o.loop.do(func() {
		o.mutate(func() {
			if o.permission.GrantTemporary() {
				o.logger.Info("permission granted")
			}
		})
	})
}

// RejectPermission moves the permission to Rejected for the rest of the
// process lifetime.
func (o *Orchestrator) RejectPermission() error {
	return o.loop.do(func() {
		o.mutate(func() {
			if o.permission.Reject() {
				o.logger.Info("permission rejected")
			}
		})
	})
}

// AcquireAttachment registers interest in the attachment.
func (o *Orchestrator) AcquireAttachment() (*Lease, error) {
	return o.acquire("attachment", o.attachInterest)
}

// AcquireStream registers interest in the event stream. Stream interest
// does not by itself hold the attachment.
func (o *Orchestrator) AcquireStream() (*Lease, error) {
	return o.acquire("stream", o.streamInterest)
}

func (o *Orchestrator) acquire(kind string, counter *InterestCounter) (*Lease, error) {
	if err := o.loop.do(func() {
		o.mutate(counter.Increment)
	}); err != nil {
		return nil, err
	}
	return o.newLease(kind, counter), nil
}

func (o *Orchestrator) releaseInterest(kind string, counter *InterestCounter) error {
	var err error
	if doErr := o.loop.do(func() {
		o.mutate(func() {
			err = counter.Decrement()
		})
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		o.logger.Error("unmatched interest release", "kind", kind, "error", err)
	}
	return err
}

// mutate runs fn with reactions suspended, then reacts once to the
// combined result. fn must run on the loop goroutine.
func (o *Orchestrator) mutate(fn func()) {
	if o.reacting {
		fn()
		return
	}
	o.reacting = true
	fn()
	o.reacting = false
	o.react()
}

// snapshot derives the combined view from the live state sources.
func (o *Orchestrator) snapshot() Snapshot {
	return Snapshot{
		Permission:     o.permission.Get(),
		AttachInterest: o.attachInterest.Get(),
		AttachState:    o.attach.State(),
		StreamInterest: o.streamInterest.Get(),
		StreamState:    o.stream.State(),
	}
}

// react applies the policy rules until the snapshot stops changing. Changes
// made by the rules re-enter react through the cell subscriptions; those
// nested calls return immediately and are picked up by the next iteration,
// so reactions to consecutive snapshots never interleave.
func (o *Orchestrator) react() {
	if o.reacting {
		return
	}
	o.reacting = true
	defer func() { o.reacting = false }()

	for {
		snap := o.snapshot()
		if o.primed && snap == o.last {
			return
		}
		o.primed = true
		o.last = snap
		o.logger.Debug("snapshot", "state", snap)
		o.current.Store(&snap)
		o.published.Set(snap)

		o.applyAttachmentRule(snap)
		o.applyStreamRule(snap)
		o.admitCommand()
	}
}

// applyAttachmentRule holds the attachment iff permission and interest
// allow it.
func (o *Orchestrator) applyAttachmentRule(snap Snapshot) {
	if snap.WantsAttachment() {
		o.attach.Activate()
		return
	}
	o.attach.Deactivate()
}

// applyStreamRule runs after applyAttachmentRule and reads the attachment
// state it left behind, so the stream never outlives the attachment.
func (o *Orchestrator) applyStreamRule(snap Snapshot) {
	switch o.attach.State() {
	case StateActive:
		if snap.StreamInterest > 0 {
			o.stream.Activate()
		} else {
			o.stream.Deactivate()
		}
	case StateInactive, StateActivating, StateDeactivating:
		o.stream.ForceState(StateInactive)
	}
}
