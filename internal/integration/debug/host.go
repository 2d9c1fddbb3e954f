package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/attachgate/internal/attach"
	"github.com/dshills/attachgate/internal/integration/debug/dap"
)

// StreamEvent is a debuggee event forwarded while the stream is active.
type StreamEvent struct {
	// Event is the DAP event name, "stopped" or "output".
	Event string

	// Reason is the stop reason of a stopped event.
	Reason string

	// Description is the human readable stop description, if any.
	Description string

	// ThreadID is the stopped thread.
	ThreadID int

	// Category and Output carry an output event.
	Category string
	Output   string
}

// Config configures a Host.
type Config struct {
	// Name identifies the target in logs and errors. Defaults to the
	// address or the adapter command.
	Name string

	// Address is the host:port of a debug adapter listening on TCP.
	Address string

	// Command starts a debug adapter speaking DAP on stdio. Used when
	// Address is empty.
	Command []string

	// AdapterID, ClientID and ClientName are sent with initialize.
	AdapterID  string
	ClientID   string
	ClientName string

	// AttachArguments are the adapter specific attach request arguments.
	AttachArguments map[string]any

	// ExceptionFilters are enabled while the stream is active.
	ExceptionFilters []string

	// Dial overrides how a connection to the adapter is opened.
	Dial func(ctx context.Context) (dap.Transport, error)

	// Retry governs repeated dials. The zero value dials once.
	Retry ConnectRetry

	// HandshakeTimeout bounds one activation: dial, initialize, attach and
	// configurationDone. Zero means no limit.
	HandshakeTimeout time.Duration

	// Events receives stream events. It runs on the connection's receive
	// goroutine and must not block.
	Events func(StreamEvent)

	// Logger receives host logs. Defaults to a discarding logger.
	Logger *slog.Logger
}

// Host performs attachment and stream transitions against a DAP adapter.
// It holds at most one connection at a time.
type Host struct {
	cfg    Config
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	client *dap.Client
	caps   *dap.Capabilities
	abort  context.CancelFunc // cancels the activation in flight
	halted error              // set by Cancel and Close; refuses activations

	streaming atomic.Bool
	detached  chan attach.DetachEvent
	done      chan struct{}
	closeOnce sync.Once
}

var _ attach.Actions = (*Host)(nil)

// NewHost creates a host for the configured target. No connection is made
// until the attachment is activated.
func NewHost(cfg Config) (*Host, error) {
	if cfg.Dial == nil {
		switch {
		case cfg.Address != "":
			addr := cfg.Address
			cfg.Dial = func(ctx context.Context) (dap.Transport, error) {
				return dap.Dial(ctx, addr)
			}
		case len(cfg.Command) > 0:
			argv := append([]string(nil), cfg.Command...)
			cfg.Dial = func(ctx context.Context) (dap.Transport, error) {
				return dap.Spawn(argv[0], argv[1:]...)
			}
		default:
			return nil, ErrNoTarget
		}
	}

	name := cfg.Name
	if name == "" {
		name = cfg.Address
	}
	if name == "" && len(cfg.Command) > 0 {
		name = cfg.Command[0]
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Host{
		cfg:      cfg,
		name:     name,
		logger:   cfg.Logger.With("component", "host", "target", name),
		detached: make(chan attach.DetachEvent, 8),
		done:     make(chan struct{}),
	}, nil
}

// Name returns the target name.
func (h *Host) Name() string {
	return h.name
}

// Detached delivers attachments lost outside the orchestrator.
func (h *Host) Detached() <-chan attach.DetachEvent {
	return h.detached
}

// Attached reports whether the host holds a connection.
func (h *Host) Attached() bool {
	return h.current() != nil
}

// Capabilities returns the capabilities of the current adapter, or nil.
func (h *Host) Capabilities() *dap.Capabilities {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps
}

// ActivateAttachment connects to the adapter and attaches to the target.
func (h *Host) ActivateAttachment(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if h.cfg.HandshakeTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
		defer cancelTimeout()
	}

	// A connection left over from an activation that finished after the
	// orchestrator gave up on it is replaced.
	stale, err := h.begin(cancel)
	if stale != nil {
		h.logger.Debug("closing stale connection")
		stale.Close()
	}
	if err != nil {
		return h.opError("attach", err)
	}

	transport, err := h.cfg.Retry.dial(ctx, h.logger, h.cfg.Dial)
	if err != nil {
		return h.opError("connect", err)
	}

	client := dap.NewClient(transport)
	h.watch(client)

	caps, err := client.Initialize(ctx, dap.InitializeRequestArguments{
		ClientID:        h.cfg.ClientID,
		ClientName:      h.cfg.ClientName,
		AdapterID:       h.cfg.AdapterID,
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",
	})
	if err != nil {
		client.Close()
		return h.opError("initialize", err)
	}

	if err := client.Attach(ctx, h.cfg.AttachArguments); err != nil {
		if alreadyAttached(err) {
			if err := h.install(client, caps); err != nil {
				return h.opError("attach", err)
			}
			h.logger.Info("target already attached", "error", err)
			return fmt.Errorf("%w: %v", attach.ErrAlreadyHeld, err)
		}
		client.Close()
		return h.opError("attach", err)
	}

	if caps.SupportsConfigurationDoneRequest {
		if err := client.ConfigurationDone(ctx); err != nil {
			client.Close()
			return h.opError("configurationDone", err)
		}
	}

	if err := h.install(client, caps); err != nil {
		return h.opError("attach", err)
	}
	h.logger.Info("attached")
	return nil
}

// DeactivateAttachment disconnects from the target without terminating it.
func (h *Host) DeactivateAttachment(ctx context.Context) error {
	client := h.take()
	if client == nil {
		return nil
	}
	if err := h.disconnect(ctx, client); err != nil {
		return err
	}
	h.logger.Info("detached")
	return nil
}

// Cancel ends the attachment on the user's behalf. It aborts an activation
// in flight, disconnects from the target and reports a cancelled-by-user
// detach on Detached. The host refuses every later activation.
func (h *Host) Cancel(ctx context.Context) error {
	h.halt(ErrCancelled)

	var err error
	if client := h.take(); client != nil {
		err = h.disconnect(ctx, client)
	}
	h.logger.Info("attachment cancelled by user")
	h.report(attach.DetachEvent{
		Reason: attach.ReasonCancelledByUser,
		Detail: "cancelled by user",
	})
	return err
}

// ActivateStream enables the configured exception breakpoints and starts
// forwarding debuggee events.
func (h *Host) ActivateStream(ctx context.Context) error {
	client := h.current()
	if client == nil {
		return h.opError("enable stream", ErrNotAttached)
	}

	err := client.SetExceptionBreakpoints(ctx, dap.SetExceptionBreakpointsArguments{
		Filters: h.cfg.ExceptionFilters,
	})
	if err != nil {
		return h.opError("enable stream", err)
	}

	h.streaming.Store(true)
	h.logger.Debug("stream enabled", "filters", h.cfg.ExceptionFilters)
	return nil
}

// DeactivateStream stops forwarding events and clears the exception
// breakpoints.
func (h *Host) DeactivateStream(ctx context.Context) error {
	h.streaming.Store(false)

	client := h.current()
	if client == nil {
		return nil
	}
	if err := client.SetExceptionBreakpoints(ctx, dap.SetExceptionBreakpointsArguments{}); err != nil {
		return h.opError("disable stream", err)
	}
	h.logger.Debug("stream disabled")
	return nil
}

// Evaluate evaluates expr in the debuggee's REPL context.
func (h *Host) Evaluate(ctx context.Context, expr string) (string, error) {
	client := h.current()
	if client == nil {
		return "", h.opError("evaluate", ErrNotAttached)
	}

	body, err := client.Evaluate(ctx, dap.EvaluateArguments{
		Expression: expr,
		Context:    "repl",
	})
	if err != nil {
		return "", h.opError("evaluate", err)
	}
	return body.Result, nil
}

// Close drops the connection, if any, without a disconnect request and
// stops detach reporting.
func (h *Host) Close() error {
	h.halt(ErrHostClosed)
	h.closeOnce.Do(func() {
		close(h.done)
	})
	if client := h.take(); client != nil {
		return client.Close()
	}
	return nil
}

func (h *Host) current() *dap.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

// begin registers an activation and hands back any connection it replaces.
func (h *Host) begin(abort context.CancelFunc) (*dap.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stale := h.client
	h.client = nil
	h.caps = nil
	h.streaming.Store(false)
	if h.halted != nil {
		return stale, h.halted
	}
	h.abort = abort
	return stale, nil
}

// install makes client current. A client finished after Cancel or Close is
// closed instead.
func (h *Host) install(client *dap.Client, caps *dap.Capabilities) error {
	h.mu.Lock()
	halted := h.halted
	if halted == nil {
		h.client = client
		h.caps = caps
	}
	h.abort = nil
	h.mu.Unlock()

	if halted != nil {
		h.logger.Debug("dropping connection finished after halt", "error", halted)
		client.Close()
	}
	return halted
}

func (h *Host) halt(err error) {
	h.mu.Lock()
	if h.halted == nil {
		h.halted = err
	}
	abort := h.abort
	h.abort = nil
	h.mu.Unlock()

	if abort != nil {
		abort()
	}
}

// disconnect detaches from the target without terminating it and closes
// the connection.
func (h *Host) disconnect(ctx context.Context, client *dap.Client) error {
	defer client.Close()
	if err := client.Disconnect(ctx, dap.DisconnectArguments{TerminateDebuggee: false}); err != nil {
		return h.opError("disconnect", err)
	}
	return nil
}

func (h *Host) take() *dap.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	client := h.client
	h.client = nil
	h.caps = nil
	h.streaming.Store(false)
	return client
}

func (h *Host) opError(op string, err error) error {
	return &OperationError{Op: op, Target: h.name, Err: err}
}

// watch registers the handlers that turn adapter events into detach
// events and stream events.
func (h *Host) watch(client *dap.Client) {
	client.OnEvent(dap.EventTerminated, func(evt dap.Event) {
		reason := terminatedReason(evt.Body)
		h.lost(client, reason, "adapter reported terminated")
	})
	client.OnEvent(dap.EventExited, func(evt dap.Event) {
		code := gjson.GetBytes(evt.Body, "exitCode").Int()
		h.lost(client, attach.ReasonTargetClosed, fmt.Sprintf("debuggee exited with code %d", code))
	})
	client.OnClose(func(err error) {
		if err == nil {
			return
		}
		h.lost(client, attach.ReasonConnectionLost, err.Error())
	})

	client.OnEvent(dap.EventStopped, func(evt dap.Event) {
		var body dap.StoppedEventBody
		if json.Unmarshal(evt.Body, &body) != nil {
			return
		}
		h.forward(client, StreamEvent{
			Event:       evt.Event,
			Reason:      body.Reason,
			Description: body.Description,
			ThreadID:    body.ThreadID,
		})
	})
	client.OnEvent(dap.EventOutput, func(evt dap.Event) {
		var body dap.OutputEventBody
		if json.Unmarshal(evt.Body, &body) != nil {
			return
		}
		h.forward(client, StreamEvent{
			Event:    evt.Event,
			Category: body.Category,
			Output:   body.Output,
		})
	})
}

func (h *Host) forward(client *dap.Client, ev StreamEvent) {
	if h.cfg.Events == nil || !h.streaming.Load() || h.current() != client {
		return
	}
	h.cfg.Events(ev)
}

// lost reports the end of client's attachment, once, and only while client
// is the current connection.
func (h *Host) lost(client *dap.Client, reason attach.DetachReason, detail string) {
	h.mu.Lock()
	if h.client != client {
		h.mu.Unlock()
		return
	}
	h.client = nil
	h.caps = nil
	h.streaming.Store(false)
	h.mu.Unlock()

	h.logger.Warn("attachment lost", "reason", reason, "detail", detail)
	client.Close()
	h.report(attach.DetachEvent{Reason: reason, Detail: detail})
}

func (h *Host) report(ev attach.DetachEvent) {
	select {
	case h.detached <- ev:
	case <-h.done:
	}
}

// terminatedReason reads an optional reason from a terminated event body.
// Adapters that attach on behalf of a UI report "cancelled" when the user
// dismissed the session.
func terminatedReason(body []byte) attach.DetachReason {
	reason := gjson.GetBytes(body, "reason").String()
	switch strings.ToLower(reason) {
	case "cancelled", "canceled", "cancelled-by-user", "user":
		return attach.ReasonCancelledByUser
	case "connection-lost", "disconnected":
		return attach.ReasonConnectionLost
	default:
		return attach.ReasonTargetClosed
	}
}

var alreadyAttachedPhrases = []string{
	"already attached",
	"already being debugged",
	"already has a debugger",
	"another debugger",
}

// alreadyAttached reports whether an attach failure means the target is
// already held by a debugger.
func alreadyAttached(err error) bool {
	var rerr *dap.ResponseError
	if !errors.As(err, &rerr) {
		return false
	}
	text := strings.ToLower(rerr.Message + " " + rerr.Detail)
	for _, phrase := range alreadyAttachedPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
