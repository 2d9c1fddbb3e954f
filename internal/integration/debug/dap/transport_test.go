package dap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	msg := &Message{Content: json.RawMessage(`{"test": "value"}`)}

	if err := writeMessage(&buf, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}

	result := buf.String()
	if !strings.HasPrefix(result, "Content-Length: 17\r\n\r\n") {
		t.Errorf("unexpected header: %q", result)
	}
	if !strings.HasSuffix(result, `{"test": "value"}`) {
		t.Errorf("unexpected content: %q", result)
	}
}

func TestWriteMessageWithContentType(t *testing.T) {
	var buf bytes.Buffer
	msg := &Message{
		ContentType: "application/json",
		Content:     json.RawMessage(`{}`),
	}

	if err := writeMessage(&buf, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}

	if !strings.Contains(buf.String(), "Content-Type: application/json\r\n") {
		t.Errorf("missing Content-Type header: %q", buf.String())
	}
}

func TestReadMessage(t *testing.T) {
	input := "Content-Length: 17\r\n\r\n{\"test\": \"value\"}"

	msg, err := readMessage(bufio.NewReader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(msg.Content, &parsed); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if parsed["test"] != "value" {
		t.Errorf("expected 'value', got '%s'", parsed["test"])
	}
}

func TestReadMessageHeaders(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		ctype   string
	}{
		{"content type", "Content-Length: 2\r\nContent-Type: application/json\r\n\r\n{}", false, "application/json"},
		{"case insensitive", "content-length: 2\r\n\r\n{}", false, ""},
		{"bare newlines", "Content-Length: 2\n\n{}", false, ""},
		{"missing length", "Content-Type: application/json\r\n\r\n{}", true, ""},
		{"invalid header", "InvalidHeader\r\n\r\n", true, ""},
		{"bad length", "Content-Length: abc\r\n\r\n{}", true, ""},
		{"too large", fmt.Sprintf("Content-Length: %d\r\n\r\n", MaxContentLength+1), true, ""},
		{"short body", "Content-Length: 10\r\n\r\n{}", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := readMessage(bufio.NewReader(strings.NewReader(tt.input)))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("read message: %v", err)
			}
			if msg.ContentType != tt.ctype {
				t.Errorf("ContentType = %q, want %q", msg.ContentType, tt.ctype)
			}
		})
	}
}

func TestReadMessageEOF(t *testing.T) {
	_, err := readMessage(bufio.NewReader(strings.NewReader("")))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on a clean end of stream, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	original := &Message{Content: json.RawMessage(`{"seq": 1, "type": "request", "command": "initialize"}`)}

	var buf bytes.Buffer
	if err := writeMessage(&buf, original); err != nil {
		t.Fatalf("write message: %v", err)
	}

	result, err := readMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !bytes.Equal(result.Content, original.Content) {
		t.Errorf("Content mismatch: expected %s, got %s", original.Content, result.Content)
	}
}

func TestDial(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	// Echo server.
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		server := NewStreamTransport(conn)
		msg, err := server.Receive()
		if err != nil {
			return
		}
		server.Send(msg)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	transport, err := Dial(ctx, listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer transport.Close()

	content := json.RawMessage(`{"seq":1,"type":"request","command":"test"}`)
	if err := transport.Send(&Message{Content: content}); err != nil {
		t.Fatalf("send: %v", err)
	}

	received, err := transport.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(received.Content, content) {
		t.Errorf("expected %s, got %s", content, received.Content)
	}
}

func TestDialRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := Dial(ctx, addr); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestStreamTransportPipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewStreamTransport(clientConn)
	server := NewStreamTransport(serverConn)
	defer server.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- client.Send(&Message{Content: json.RawMessage(`{"x":1}`)})
	}()

	msg, err := server.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(msg.Content) != `{"x":1}` {
		t.Errorf("unexpected content %s", msg.Content)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Second close is a no-op.
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := server.Receive(); err == nil {
		t.Fatal("expected receive error after peer closed")
	}
}
