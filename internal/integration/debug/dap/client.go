package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrClientClosed is returned for requests on a closed client.
var ErrClientClosed = errors.New("dap client closed")

// Client is a DAP client that communicates with a debug adapter.
type Client struct {
	transport Transport
	seq       atomic.Int64

	pendingMu sync.Mutex
	pending   map[int]chan result

	handlerMu sync.RWMutex
	handlers  map[string][]func(Event)
	onClose   []func(error)

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.RWMutex
	err       error
}

type result struct {
	resp *Response
	err  error
}

// NewClient creates a new DAP client with the given transport and starts
// reading from it.
func NewClient(transport Transport) *Client {
	c := &Client{
		transport: transport,
		pending:   make(map[int]chan result),
		handlers:  make(map[string][]func(Event)),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Close closes the client and underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.transport.Close()
}

// Done is closed when the client stops receiving, for whatever reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Error returns the error that stopped the receive loop, if any.
func (c *Client) Error() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// OnEvent registers a handler for the named event. Handlers run on the
// receive goroutine and must not block on requests to the same client.
func (c *Client) OnEvent(name string, handler func(Event)) {
	c.handlerMu.Lock()
	c.handlers[name] = append(c.handlers[name], handler)
	c.handlerMu.Unlock()
}

// OnClose registers a handler for the end of the connection. err is nil
// when the client was closed locally.
func (c *Client) OnClose(handler func(err error)) {
	c.handlerMu.Lock()
	c.onClose = append(c.onClose, handler)
	c.handlerMu.Unlock()
}

func (c *Client) receiveLoop() {
	var loopErr error
	defer func() {
		c.failPending(loopErr)
		c.closeOnce.Do(func() {
			close(c.done)
		})

		c.handlerMu.RLock()
		handlers := append([]func(error){}, c.onClose...)
		c.handlerMu.RUnlock()
		for _, h := range handlers {
			h(loopErr)
		}
	}()

	for {
		msg, err := c.transport.Receive()
		select {
		case <-c.done:
			return
		default:
		}
		if err != nil {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			loopErr = err
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) failPending(err error) {
	if err == nil {
		err = ErrClientClosed
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for seq, ch := range c.pending {
		ch <- result{err: err}
		delete(c.pending, seq)
	}
}

func (c *Client) handleMessage(msg *Message) {
	var base ProtocolMessage
	if err := json.Unmarshal(msg.Content, &base); err != nil {
		return
	}

	switch base.Type {
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(msg.Content, &resp); err != nil {
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.RequestSeq]
		delete(c.pending, resp.RequestSeq)
		c.pendingMu.Unlock()
		if ok {
			ch <- result{resp: &resp}
		}

	case TypeEvent:
		var evt Event
		if err := json.Unmarshal(msg.Content, &evt); err != nil {
			return
		}
		c.handlerMu.RLock()
		handlers := append([]func(Event){}, c.handlers[evt.Event]...)
		handlers = append(handlers, c.handlers["*"]...)
		c.handlerMu.RUnlock()
		for _, h := range handlers {
			h(evt)
		}
	}
}

// call sends a request, waits for its response and decodes the body into
// out when out is non-nil.
func (c *Client) call(ctx context.Context, command string, args, out any) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	seq := int(c.seq.Add(1))
	req := Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: TypeRequest},
		Command:         command,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("marshal %s arguments: %w", command, err)
		}
		req.Arguments = raw
	}
	content, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", command, err)
	}

	ch := make(chan result, 1)
	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}

	if err := c.transport.Send(&Message{Content: content}); err != nil {
		forget()
		return fmt.Errorf("send %s: %w", command, err)
	}

	var res result
	select {
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return fmt.Errorf("%s: %w", command, res.err)
	}

	if !res.resp.Success {
		rerr := &ResponseError{Command: command, Message: res.resp.Message}
		var body errorResponseBody
		if json.Unmarshal(res.resp.Body, &body) == nil && body.Error != nil {
			rerr.Detail = body.Error.Format
		}
		return rerr
	}

	if out != nil && len(res.resp.Body) > 0 {
		if err := json.Unmarshal(res.resp.Body, out); err != nil {
			return fmt.Errorf("unmarshal %s response: %w", command, err)
		}
	}
	return nil
}

// Initialize sends the initialize request.
func (c *Client) Initialize(ctx context.Context, args InitializeRequestArguments) (*Capabilities, error) {
	var caps Capabilities
	if err := c.call(ctx, "initialize", args, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// Attach sends the attach request. args carries adapter-specific fields.
func (c *Client) Attach(ctx context.Context, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	return c.call(ctx, "attach", args, nil)
}

// ConfigurationDone sends the configurationDone request.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	return c.call(ctx, "configurationDone", nil, nil)
}

// Disconnect sends the disconnect request.
func (c *Client) Disconnect(ctx context.Context, args DisconnectArguments) error {
	return c.call(ctx, "disconnect", args, nil)
}

// SetExceptionBreakpoints sends the setExceptionBreakpoints request.
func (c *Client) SetExceptionBreakpoints(ctx context.Context, args SetExceptionBreakpointsArguments) error {
	if args.Filters == nil {
		args.Filters = []string{}
	}
	return c.call(ctx, "setExceptionBreakpoints", args, nil)
}

// Evaluate sends the evaluate request.
func (c *Client) Evaluate(ctx context.Context, args EvaluateArguments) (*EvaluateResponseBody, error) {
	var body EvaluateResponseBody
	if err := c.call(ctx, "evaluate", args, &body); err != nil {
		return nil, err
	}
	return &body, nil
}
