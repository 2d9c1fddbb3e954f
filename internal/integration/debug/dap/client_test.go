package dap

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu        sync.Mutex
	sendQueue []*Message
	recvChan  chan *Message
	closed    bool
	sendErr   error
	onSend    func(*Message)
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		recvChan: make(chan *Message, 10),
	}
}

func (t *mockTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return io.ErrClosedPipe
	}
	if t.sendErr != nil {
		return t.sendErr
	}

	t.sendQueue = append(t.sendQueue, msg)
	if t.onSend != nil {
		t.onSend(msg)
	}
	return nil
}

func (t *mockTransport) Receive() (*Message, error) {
	msg, ok := <-t.recvChan
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.recvChan)
	}
	return nil
}

// hangUp simulates the adapter going away without a local Close.
func (t *mockTransport) hangUp() {
	t.Close()
}

func (t *mockTransport) queue(v any) {
	content, _ := json.Marshal(v)
	t.recvChan <- &Message{Content: content}
}

// autoRespond answers every request with the response built by fn.
func (t *mockTransport) autoRespond(fn func(req Request) Response) {
	t.onSend = func(msg *Message) {
		var req Request
		json.Unmarshal(msg.Content, &req)
		resp := fn(req)
		resp.Type = TypeResponse
		resp.RequestSeq = req.Seq
		resp.Command = req.Command
		t.queue(resp)
	}
}

func (t *mockTransport) sentRequests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	reqs := make([]Request, 0, len(t.sendQueue))
	for _, msg := range t.sendQueue {
		var req Request
		json.Unmarshal(msg.Content, &req)
		reqs = append(reqs, req)
	}
	return reqs
}

func event(name string, body any) Event {
	evt := Event{
		ProtocolMessage: ProtocolMessage{Type: TypeEvent},
		Event:           name,
	}
	if body != nil {
		evt.Body, _ = json.Marshal(body)
	}
	return evt
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientSendRequest(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		return Response{Success: true, Body: json.RawMessage(`{}`)}
	})

	client := NewClient(mt)
	defer client.Close()

	if err := client.ConfigurationDone(testContext(t)); err != nil {
		t.Fatalf("configurationDone: %v", err)
	}

	reqs := mt.sentRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(reqs))
	}
	if reqs[0].Command != "configurationDone" {
		t.Errorf("expected command 'configurationDone', got %s", reqs[0].Command)
	}
	if reqs[0].Type != TypeRequest {
		t.Errorf("expected type 'request', got %s", reqs[0].Type)
	}
}

func TestClientInitialize(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		body, _ := json.Marshal(Capabilities{
			SupportsConfigurationDoneRequest: true,
			ExceptionBreakpointFilters: []ExceptionBreakpointsFilter{
				{Filter: "panic", Label: "Panics", Default: true},
			},
		})
		return Response{Success: true, Body: body}
	})

	client := NewClient(mt)
	defer client.Close()

	caps, err := client.Initialize(testContext(t), InitializeRequestArguments{
		ClientID:  "attachgate",
		AdapterID: "go",
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !caps.SupportsConfigurationDoneRequest {
		t.Error("expected SupportsConfigurationDoneRequest true")
	}
	if len(caps.ExceptionBreakpointFilters) != 1 || caps.ExceptionBreakpointFilters[0].Filter != "panic" {
		t.Errorf("unexpected filters: %+v", caps.ExceptionBreakpointFilters)
	}

	var args InitializeRequestArguments
	if err := json.Unmarshal(mt.sentRequests()[0].Arguments, &args); err != nil {
		t.Fatalf("unmarshal arguments: %v", err)
	}
	if args.AdapterID != "go" || args.ClientID != "attachgate" {
		t.Errorf("unexpected initialize arguments: %+v", args)
	}
}

func TestClientAttachArguments(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		return Response{Success: true}
	})

	client := NewClient(mt)
	defer client.Close()

	err := client.Attach(testContext(t), map[string]any{"mode": "local", "processId": 42})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	var args map[string]any
	if err := json.Unmarshal(mt.sentRequests()[0].Arguments, &args); err != nil {
		t.Fatalf("unmarshal arguments: %v", err)
	}
	if args["mode"] != "local" || args["processId"] != float64(42) {
		t.Errorf("unexpected attach arguments: %v", args)
	}
}

func TestClientSetExceptionBreakpointsEmpty(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		return Response{Success: true}
	})

	client := NewClient(mt)
	defer client.Close()

	if err := client.SetExceptionBreakpoints(testContext(t), SetExceptionBreakpointsArguments{}); err != nil {
		t.Fatalf("setExceptionBreakpoints: %v", err)
	}

	// An empty filter list clears the breakpoints; it must not be null.
	if got := string(mt.sentRequests()[0].Arguments); got != `{"filters":[]}` {
		t.Errorf("arguments = %s, want {\"filters\":[]}", got)
	}
}

func TestClientRequestFailure(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		return Response{
			Success: false,
			Message: "command not supported",
		}
	})

	client := NewClient(mt)
	defer client.Close()

	err := client.ConfigurationDone(testContext(t))
	if err == nil {
		t.Fatal("expected error for failed request")
	}
	if err.Error() != "configurationDone failed: command not supported" {
		t.Errorf("unexpected error message: %v", err)
	}

	var rerr *ResponseError
	if !errors.As(err, &rerr) || rerr.Command != "configurationDone" {
		t.Errorf("expected *ResponseError for configurationDone, got %T", err)
	}
}

func TestClientRequestFailureDetail(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		return Response{
			Success: false,
			Message: "attach failed",
			Body:    json.RawMessage(`{"error":{"id":3000,"format":"process 42 is already being debugged"}}`),
		}
	})

	client := NewClient(mt)
	defer client.Close()

	err := client.Attach(testContext(t), nil)
	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ResponseError, got %v", err)
	}
	if rerr.Detail != "process 42 is already being debugged" {
		t.Errorf("Detail = %q", rerr.Detail)
	}
}

func TestClientContextCancellation(t *testing.T) {
	mt := newMockTransport()

	client := NewClient(mt)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.ConfigurationDone(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestClientSendError(t *testing.T) {
	mt := newMockTransport()
	mt.sendErr = io.ErrClosedPipe

	client := NewClient(mt)
	defer client.Close()

	err := client.ConfigurationDone(testContext(t))
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected send error, got %v", err)
	}
}

func TestClientEvaluate(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		var args EvaluateArguments
		json.Unmarshal(req.Arguments, &args)
		body, _ := json.Marshal(EvaluateResponseBody{Result: args.Expression + "=42", Type: "int"})
		return Response{Success: true, Body: body}
	})

	client := NewClient(mt)
	defer client.Close()

	result, err := client.Evaluate(testContext(t), EvaluateArguments{Expression: "x", Context: "repl"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Result != "x=42" || result.Type != "int" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestClientSequenceNumbers(t *testing.T) {
	mt := newMockTransport()
	mt.autoRespond(func(req Request) Response {
		return Response{Success: true}
	})

	client := NewClient(mt)
	defer client.Close()

	ctx := testContext(t)
	for i := 0; i < 3; i++ {
		if err := client.ConfigurationDone(ctx); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	for i, req := range mt.sentRequests() {
		if req.Seq != i+1 {
			t.Errorf("request %d has seq %d, want %d", i, req.Seq, i+1)
		}
	}
}

func TestClientEventHandlers(t *testing.T) {
	mt := newMockTransport()
	client := NewClient(mt)
	defer client.Close()

	stopped := make(chan StoppedEventBody, 1)
	output := make(chan OutputEventBody, 1)

	client.OnEvent(EventStopped, func(evt Event) {
		var body StoppedEventBody
		json.Unmarshal(evt.Body, &body)
		stopped <- body
	})
	client.OnEvent(EventOutput, func(evt Event) {
		var body OutputEventBody
		json.Unmarshal(evt.Body, &body)
		output <- body
	})

	mt.queue(event(EventStopped, StoppedEventBody{Reason: "breakpoint", ThreadID: 1}))
	mt.queue(event(EventOutput, OutputEventBody{Category: "stdout", Output: "Hello, World!"}))

	select {
	case body := <-stopped:
		if body.Reason != "breakpoint" || body.ThreadID != 1 {
			t.Errorf("unexpected stopped body: %+v", body)
		}
	case <-time.After(time.Second):
		t.Fatal("stopped handler not called")
	}

	select {
	case body := <-output:
		if body.Category != "stdout" || body.Output != "Hello, World!" {
			t.Errorf("unexpected output body: %+v", body)
		}
	case <-time.After(time.Second):
		t.Fatal("output handler not called")
	}
}

func TestClientWildcardHandler(t *testing.T) {
	mt := newMockTransport()
	client := NewClient(mt)
	defer client.Close()

	events := make(chan string, 3)
	client.OnEvent("*", func(evt Event) {
		events <- evt.Event
	})

	for _, name := range []string{EventInitialized, EventStopped, "continued"} {
		mt.queue(event(name, nil))
	}

	for _, want := range []string{EventInitialized, EventStopped, "continued"} {
		select {
		case got := <-events:
			if got != want {
				t.Errorf("event = %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %q not delivered", want)
		}
	}
}

func TestClientRemoteClose(t *testing.T) {
	mt := newMockTransport()
	client := NewClient(mt)
	defer client.Close()

	closed := make(chan error, 1)
	client.OnClose(func(err error) {
		closed <- err
	})

	// A request in flight when the connection drops fails.
	result := make(chan error, 1)
	go func() {
		result <- client.ConfigurationDone(context.Background())
	}()
	for len(mt.sentRequests()) == 0 {
		time.Sleep(time.Millisecond)
	}

	mt.hangUp()

	select {
	case err := <-closed:
		if !errors.Is(err, io.EOF) {
			t.Errorf("OnClose error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose not called")
	}

	select {
	case err := <-result:
		if err == nil {
			t.Error("pending request succeeded after connection loss")
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not failed")
	}

	<-client.Done()
	if !errors.Is(client.Error(), io.EOF) {
		t.Errorf("Error() = %v, want io.EOF", client.Error())
	}
	if err := client.ConfigurationDone(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("request after close = %v, want ErrClientClosed", err)
	}
}

func TestClientLocalClose(t *testing.T) {
	mt := newMockTransport()
	client := NewClient(mt)

	closed := make(chan error, 1)
	client.OnClose(func(err error) {
		closed <- err
	})

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("OnClose error = %v, want nil for a local close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose not called")
	}
}
