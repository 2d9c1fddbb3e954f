package attach

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// TransitionState is the state of a TransitionController.
type TransitionState int

const (
	// StateInactive means the resource is not held.
	StateInactive TransitionState = iota
	// StateActivating means the activate action is in flight.
	StateActivating
	// StateActive means the resource is held.
	StateActive
	// StateDeactivating means the deactivate action is in flight.
	StateDeactivating
)

// String returns a string representation of the state.
func (s TransitionState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	default:
		return "unknown"
	}
}

// Action performs the real work of a transition. It may block and may fail.
type Action func(ctx context.Context) error

// transition describes one direction of a TransitionController.
type transition struct {
	op           string
	begin        TransitionState
	intermediate TransitionState
	success      TransitionState
	failure      TransitionState
	action       Action
}

// TransitionController wraps a pair of asynchronous actions in a guarded
// four state machine.
//
// Activate, Deactivate and ForceState must be called on the goroutine that
// Dispatcher schedules onto. Action outcomes are posted back through the
// Dispatcher.
type TransitionController struct {
	name     string
	state    *Cell[TransitionState]
	activate transition
	release  transition

	ctx        context.Context
	backoff    time.Duration
	dispatcher Dispatcher
	logger     *slog.Logger

	// epoch increases on every state write. An action only settles the
	// state if nothing else wrote it since the action started.
	epoch   uint64
	started int
}

// ControllerConfig configures a TransitionController.
type ControllerConfig struct {
	// Name identifies the controller in logs and errors.
	Name string

	// Activate acquires the resource.
	Activate Action

	// Deactivate releases the resource.
	Deactivate Action

	// Context is passed to every action. Cancelling it aborts in-flight actions.
	Context context.Context

	// Backoff holds the intermediate state this long after a failed action
	// before the failure state is written.
	Backoff time.Duration

	// Logger receives transition logs. Defaults to a discarding logger.
	Logger *slog.Logger
}

// NewTransitionController creates a controller in the Inactive state.
func NewTransitionController(cfg ControllerConfig, dispatcher Dispatcher) *TransitionController {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &TransitionController{
		name:  cfg.Name,
		state: NewCell(StateInactive),
		activate: transition{
			op:           "activate",
			begin:        StateInactive,
			intermediate: StateActivating,
			success:      StateActive,
			failure:      StateInactive,
			action:       cfg.Activate,
		},
		release: transition{
			op:           "deactivate",
			begin:        StateActive,
			intermediate: StateDeactivating,
			success:      StateInactive,
			failure:      StateInactive,
			action:       cfg.Deactivate,
		},
		ctx:        cfg.Context,
		backoff:    cfg.Backoff,
		dispatcher: dispatcher,
		logger:     cfg.Logger.With("controller", cfg.Name),
	}
}

// Name returns the controller name.
func (c *TransitionController) Name() string {
	return c.name
}

// State returns the current state.
func (c *TransitionController) State() TransitionState {
	return c.state.Get()
}

// Started returns how many actions the controller has started.
func (c *TransitionController) Started() int {
	return c.started
}

// Subscribe registers fn for state changes.
func (c *TransitionController) Subscribe(fn func(TransitionState)) func() {
	return c.state.Subscribe(fn)
}

// Activate starts the activate action if the controller is Inactive.
func (c *TransitionController) Activate() {
	c.run(c.activate)
}

// Deactivate starts the deactivate action if the controller is Active.
func (c *TransitionController) Deactivate() {
	c.run(c.release)
}

// ForceState overwrites the state without running an action. Any action
// still in flight will find its state overwritten and leave it alone.
func (c *TransitionController) ForceState(s TransitionState) {
	prev := c.state.Get()
	c.write(s)
	if prev != s {
		c.logger.Debug("state forced", "from", prev, "to", s)
	}
}

func (c *TransitionController) write(s TransitionState) {
	c.epoch++
	c.state.Set(s)
}

func (c *TransitionController) run(t transition) {
	if c.state.Get() != t.begin {
		return
	}

	c.write(t.intermediate)
	epoch := c.epoch
	c.started++
	c.logger.Debug("transition started", "op", t.op, "state", t.intermediate)

	action := t.action
	go func() {
		var err error
		if action != nil {
			err = action(c.ctx)
		}
		if err != nil && !IsAlreadyHeld(err) && c.backoff > 0 {
			timer := time.NewTimer(c.backoff)
			select {
			case <-timer.C:
			case <-c.ctx.Done():
				timer.Stop()
			}
		}
		c.dispatcher.Dispatch(func() {
			c.settle(t, epoch, err)
		})
	}()
}

func (c *TransitionController) settle(t transition, epoch uint64, err error) {
	if c.epoch != epoch {
		c.logger.Debug("stale transition result ignored",
			"op", t.op, "state", c.state.Get(), "error", err)
		return
	}

	switch {
	case err == nil:
		c.write(t.success)
		c.logger.Debug("transition complete", "op", t.op, "state", t.success)
	case IsAlreadyHeld(err):
		c.write(t.success)
		c.logger.Info("resource already held elsewhere, treating as success",
			"op", t.op, "error", err)
	default:
		c.write(t.failure)
		c.logger.Warn("transition failed",
			"op", t.op, "state", t.failure,
			"error", &ActionError{Controller: c.name, Op: t.op, Err: err})
	}
}
