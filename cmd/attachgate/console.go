package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/dshills/attachgate/internal/attach"
	"github.com/dshills/attachgate/internal/config"
	"github.com/dshills/attachgate/internal/integration/debug"
)

const consoleHelp = `Commands:
  grant          allow the attachment for this session
  reject         refuse the attachment for this session
  attach         hold an attachment lease
  detach         release the attachment lease
  watch          hold a stream lease (exceptions, output)
  unwatch        release the stream lease
  eval <expr>    evaluate an expression once attached
  cancel         dismiss the attachment as the user would
  status         show the current state
  config         show the effective configuration
  help           show this help
  quit           release everything and exit
`

// target is the debug host as the console sees it.
type target interface {
	Name() string
	Attached() bool
	Evaluate(ctx context.Context, expr string) (string, error)
	Cancel(ctx context.Context) error
}

// console is the line oriented front end. Commands run on the goroutine
// calling run; evaluations run in the background and print when done.
type console struct {
	logger *slog.Logger
	prompt bool
	cfg    atomic.Pointer[config.Config]

	mu  sync.Mutex
	out io.Writer

	orch   *attach.Orchestrator
	target target
	unsub  func()

	attachLease *attach.Lease
	streamLease *attach.Lease

	ctx    context.Context
	cancel context.CancelFunc
	evals  sync.WaitGroup
}

func newConsole(out io.Writer, cfg *config.Config, logger *slog.Logger, prompt bool) *console {
	ctx, cancel := context.WithCancel(context.Background())
	c := &console{
		logger: logger,
		prompt: prompt,
		out:    out,
		ctx:    ctx,
		cancel: cancel,
	}
	c.cfg.Store(cfg)
	return c
}

// attach connects the console to the orchestrator and prints state changes.
func (c *console) attach(o *attach.Orchestrator, t target) error {
	c.orch = o
	c.target = t

	var last attach.Snapshot
	primed := false
	unsub, err := o.Subscribe(func(s attach.Snapshot) {
		if primed && s.AttachState != last.AttachState {
			c.printf("attachment: %s\n", s.AttachState)
		}
		if primed && s.StreamState != last.StreamState {
			c.printf("stream: %s\n", s.StreamState)
		}
		if primed && s.Permission != last.Permission {
			c.printf("permission: %s\n", s.Permission)
		}
		last, primed = s, true
	})
	if err != nil {
		return err
	}
	c.unsub = unsub
	return nil
}

func (c *console) setConfig(cfg *config.Config) {
	c.cfg.Store(cfg)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) showPrompt() {
	if c.prompt {
		c.printf("attachgate> ")
	}
}

// streamEvent prints an event forwarded by the host.
func (c *console) streamEvent(ev debug.StreamEvent) {
	switch ev.Event {
	case "stopped":
		if ev.Description != "" {
			c.printf("stopped: %s (thread %d): %s\n", ev.Reason, ev.ThreadID, ev.Description)
		} else {
			c.printf("stopped: %s (thread %d)\n", ev.Reason, ev.ThreadID)
		}
	case "output":
		c.printf("[%s] %s", orDefault(ev.Category, "console"), ev.Output)
		if !strings.HasSuffix(ev.Output, "\n") {
			c.printf("\n")
		}
	}
}

// run reads commands until quit, end of input, or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if c.exec(line) {
				return nil
			}
			c.showPrompt()
		}
	}
}

// exec runs one command line and reports whether the console should quit.
func (c *console) exec(line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch strings.ToLower(cmd) {
	case "":
	case "grant":
		err = c.orch.GrantPermission()
	case "reject":
		err = c.orch.RejectPermission()
	case "attach":
		err = c.acquire(&c.attachLease, c.orch.AcquireAttachment)
	case "detach":
		err = c.release(&c.attachLease, "attachment")
	case "watch":
		err = c.acquire(&c.streamLease, c.orch.AcquireStream)
	case "unwatch":
		err = c.release(&c.streamLease, "stream")
	case "eval":
		if rest == "" {
			err = errors.New("usage: eval <expr>")
			break
		}
		c.evaluate(rest)
	case "cancel":
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Load().CommandTimeout())
		err = c.target.Cancel(ctx)
		cancel()
	case "status":
		err = c.status()
	case "config":
		err = c.showConfig()
	case "help", "?":
		c.printf("%s", consoleHelp)
	case "quit", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}

	if err != nil {
		c.printf("error: %v\n", err)
	}
	return false
}

func (c *console) acquire(slot **attach.Lease, acquire func() (*attach.Lease, error)) error {
	if *slot != nil {
		return fmt.Errorf("already holding %s lease %s", (*slot).Kind(), (*slot).ID())
	}
	lease, err := acquire()
	if err != nil {
		return err
	}
	*slot = lease
	c.logger.Debug("lease held", "kind", lease.Kind(), "lease", lease.ID())
	return nil
}

func (c *console) release(slot **attach.Lease, kind string) error {
	if *slot == nil {
		return fmt.Errorf("no %s lease held", kind)
	}
	lease := *slot
	*slot = nil
	return lease.Release()
}

// evaluate issues expr through the command gateway in the background. A
// newer evaluation supersedes one still waiting for the attachment.
func (c *console) evaluate(expr string) {
	timeout := c.cfg.Load().CommandTimeout()
	c.evals.Add(1)
	go func() {
		defer c.evals.Done()

		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		defer cancel()

		result, err := attach.Issue(ctx, c.orch, func(ctx context.Context) (string, error) {
			return c.target.Evaluate(ctx, expr)
		})
		switch {
		case errors.Is(err, attach.ErrCommandSuperseded):
			c.printf("eval %s: superseded\n", expr)
		case err != nil:
			c.printf("eval %s: %v\n", expr, err)
		default:
			c.printf("%s = %s\n", expr, result)
		}
	}()
}

type resourceStatus struct {
	State    string `yaml:"state"`
	Interest int    `yaml:"interest"`
}

type statusView struct {
	Target     string         `yaml:"target"`
	Connected  bool           `yaml:"connected"`
	Permission string         `yaml:"permission"`
	Attachment resourceStatus `yaml:"attachment"`
	Stream     resourceStatus `yaml:"stream"`
	Leases     []string       `yaml:"leases,omitempty"`
}

func (c *console) statusView() statusView {
	s := c.orch.Snapshot()
	view := statusView{
		Target:     c.target.Name(),
		Connected:  c.target.Attached(),
		Permission: s.Permission.String(),
		Attachment: resourceStatus{State: s.AttachState.String(), Interest: s.AttachInterest},
		Stream:     resourceStatus{State: s.StreamState.String(), Interest: s.StreamInterest},
	}
	for _, lease := range []*attach.Lease{c.attachLease, c.streamLease} {
		if lease != nil {
			view.Leases = append(view.Leases, lease.Kind()+" "+lease.ID())
		}
	}
	return view
}

func (c *console) status() error {
	data, err := yaml.Marshal(c.statusView())
	if err != nil {
		return err
	}
	c.printf("%s", data)
	return nil
}

func (c *console) showConfig() error {
	data, err := config.Encode(c.cfg.Load(), ".toml")
	if err != nil {
		return err
	}
	c.printf("%s", data)
	return nil
}

// close cancels pending evaluations and releases every lease held by the
// console.
func (c *console) close() {
	c.cancel()
	c.evals.Wait()
	if c.unsub != nil {
		c.unsub()
	}
	for _, slot := range []**attach.Lease{&c.streamLease, &c.attachLease} {
		if *slot != nil {
			if err := (*slot).Release(); err != nil {
				c.logger.Warn("lease release failed", "kind", (*slot).Kind(), "error", err)
			}
			*slot = nil
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
