// Package dap implements the Debug Adapter Protocol client.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// MaxContentLength is the maximum allowed content length for DAP messages (10MB).
const MaxContentLength = 10 * 1024 * 1024

// Transport represents a DAP transport layer.
type Transport interface {
	// Send sends a message to the debug adapter.
	Send(msg *Message) error

	// Receive receives a message from the debug adapter.
	Receive() (*Message, error)

	// Close closes the transport.
	Close() error
}

// Message represents a DAP message with headers and content.
type Message struct {
	// ContentType is the MIME type (optional).
	ContentType string

	// Content is the JSON content.
	Content json.RawMessage
}

// StreamTransport frames DAP messages over a byte stream. It serves TCP
// connections, adapter subprocess pipes and in-memory pipes alike.
type StreamTransport struct {
	reader *bufio.Reader
	writer io.Writer
	closer func() error

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamTransport creates a transport over any ReadWriteCloser.
func NewStreamTransport(rwc io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{
		reader: bufio.NewReader(rwc),
		writer: rwc,
		closer: rwc.Close,
	}
}

// Dial connects to a debug adapter listening on a TCP address.
func Dial(ctx context.Context, address string) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewStreamTransport(conn), nil
}

// Spawn starts a debug adapter subprocess and talks to it over stdio. The
// process is killed when the transport is closed.
func Spawn(command string, args ...string) (*StreamTransport, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	return &StreamTransport{
		reader: bufio.NewReader(stdout),
		writer: stdin,
		closer: func() error {
			stdin.Close()
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			err := cmd.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// Killed on purpose.
				return nil
			}
			return err
		},
	}, nil
}

// Send sends a message to the debug adapter.
func (t *StreamTransport) Send(msg *Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeMessage(t.writer, msg)
}

// Receive receives a message from the debug adapter.
func (t *StreamTransport) Receive() (*Message, error) {
	return readMessage(t.reader)
}

// Close closes the underlying stream. It is safe to call more than once.
func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.closer()
	})
	return t.closeErr
}

// writeMessage writes a DAP message to the writer.
func writeMessage(w io.Writer, msg *Message) error {
	var header strings.Builder
	fmt.Fprintf(&header, "Content-Length: %d\r\n", len(msg.Content))
	if msg.ContentType != "" {
		fmt.Fprintf(&header, "Content-Type: %s\r\n", msg.ContentType)
	}
	header.WriteString("\r\n")

	if _, err := io.WriteString(w, header.String()); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	if _, err := w.Write(msg.Content); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	return nil
}

// readMessage reads a DAP message from the reader.
func readMessage(r *bufio.Reader) (*Message, error) {
	contentLength := -1
	var contentType string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header: %q", line)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(name)) {
		case "content-length":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid content-length: %w", err)
			}
			if n < 0 || n > MaxContentLength {
				return nil, fmt.Errorf("content-length %d exceeds maximum allowed %d", n, MaxContentLength)
			}
			contentLength = n
		case "content-type":
			contentType = value
		}
	}

	if contentLength <= 0 {
		return nil, errors.New("missing Content-Length header")
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	return &Message{ContentType: contentType, Content: content}, nil
}
