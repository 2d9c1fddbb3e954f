// Package daptest provides an in-memory debug adapter for tests.
package daptest

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/dshills/attachgate/internal/integration/debug/dap"
)

// Handler answers one request. A non-nil error becomes a failed response
// carrying the error text as its message.
type Handler func(req dap.Request) (body any, err error)

// Adapter is a scripted debug adapter on the far end of an in-memory pipe.
// Requests without a handler succeed with an empty body.
type Adapter struct {
	transport *dap.StreamTransport

	mu       sync.Mutex
	handlers map[string]Handler
	requests []dap.Request
	seq      int

	done chan struct{}
}

// New starts an adapter and returns it together with the client side of
// the connection.
func New() (*Adapter, dap.Transport) {
	clientConn, serverConn := net.Pipe()
	a := &Adapter{
		transport: dap.NewStreamTransport(serverConn),
		handlers:  make(map[string]Handler),
		done:      make(chan struct{}),
	}
	go a.serve()
	return a, dap.NewStreamTransport(clientConn)
}

// Handle installs the handler for command, replacing any previous one.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	a.handlers[command] = h
	a.mu.Unlock()
}

// Fail makes every request for command fail with message.
func (a *Adapter) Fail(command, message string) {
	a.Handle(command, func(dap.Request) (any, error) {
		return nil, fmt.Errorf("%s", message)
	})
}

// Event sends an event to the client.
func (a *Adapter) Event(name string, body any) error {
	evt := dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: dap.TypeEvent},
		Event:           name,
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		evt.Body = raw
	}
	return a.send(evt)
}

// Requests returns every request received so far.
func (a *Adapter) Requests() []dap.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]dap.Request(nil), a.requests...)
}

// Commands returns the command names of every request received so far.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	cmds := make([]string, len(a.requests))
	for i, req := range a.requests {
		cmds[i] = req.Command
	}
	return cmds
}

// Close drops the connection, as an adapter that crashed would.
func (a *Adapter) Close() error {
	err := a.transport.Close()
	<-a.done
	return err
}

// Done is closed once the adapter stops serving.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

func (a *Adapter) nextSeq() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

func (a *Adapter) send(v any) error {
	content, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.transport.Send(&dap.Message{Content: content})
}

func (a *Adapter) serve() {
	defer close(a.done)

	for {
		msg, err := a.transport.Receive()
		if err != nil {
			return
		}

		var req dap.Request
		if err := json.Unmarshal(msg.Content, &req); err != nil || req.Type != dap.TypeRequest {
			continue
		}

		a.mu.Lock()
		a.requests = append(a.requests, req)
		h := a.handlers[req.Command]
		a.mu.Unlock()

		resp := dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: dap.TypeResponse},
			RequestSeq:      req.Seq,
			Command:         req.Command,
			Success:         true,
		}
		if h != nil {
			body, err := h(req)
			if err != nil {
				resp.Success = false
				resp.Message = err.Error()
			} else if body != nil {
				resp.Body, _ = json.Marshal(body)
			}
		}

		if err := a.send(resp); err != nil {
			return
		}
	}
}
