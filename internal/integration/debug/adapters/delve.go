package adapters

import (
	"fmt"
	"net"
	"strconv"
)

// Delve attaches to Go programs. A local process is attached through
// `dlv dap`; a headless `dlv --accept-multiclient` server is attached in
// remote mode.
type Delve struct{}

// Kind returns KindDelve.
func (Delve) Kind() Kind { return KindDelve }

// Name returns a human-readable adapter name.
func (Delve) Name() string { return "Delve (Go Debugger)" }

// AdapterID returns the initialize adapter id.
func (Delve) AdapterID() string { return "go" }

// Command returns `dlv dap`.
func (Delve) Command() ([]string, error) {
	dlv, err := FindExecutable("dlv")
	if err != nil {
		return nil, fmt.Errorf("delve debugger not found: %w (install with: go install github.com/go-delve/delve/cmd/dlv@latest)", err)
	}
	return []string{dlv, "dap"}, nil
}

// Address returns the headless server address when attaching by port.
func (Delve) Address(t Target) string {
	if t.ProcessID > 0 || t.Port == 0 {
		return ""
	}
	return net.JoinHostPort(t.host(), strconv.Itoa(t.Port))
}

// AttachArgs returns local mode arguments for a process id and remote mode
// arguments for a port.
func (Delve) AttachArgs(t Target) (map[string]any, error) {
	var args map[string]any
	switch {
	case t.ProcessID > 0:
		args = map[string]any{
			"mode":      "local",
			"processId": t.ProcessID,
		}
	case t.Port > 0:
		args = map[string]any{"mode": "remote"}
	default:
		return nil, fmt.Errorf("processId or port is required to attach with delve")
	}
	if t.Cwd != "" {
		args["cwd"] = t.Cwd
	}
	return args, nil
}
