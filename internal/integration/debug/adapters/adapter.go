// Package adapters knows how to reach the common debug adapters in attach
// mode.
package adapters

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
)

// Kind identifies a debug adapter.
type Kind string

const (
	// KindDelve is the Go debugger (delve).
	KindDelve Kind = "delve"
	// KindPython is the Python debugger (debugpy).
	KindPython Kind = "python"
	// KindNodeJS is the Node.js debugger.
	KindNodeJS Kind = "nodejs"
	// KindGeneric is any other DAP adapter, configured by hand.
	KindGeneric Kind = "generic"
)

// ErrNoCommand is returned by adapters that cannot be started on stdio and
// must be reached by address.
var ErrNoCommand = errors.New("adapter has no stdio command")

// Target describes the running program an attach request points at.
type Target struct {
	// ProcessID is the local process to attach to.
	ProcessID int

	// Host and Port locate a debug server inside the target.
	Host string
	Port int

	// Cwd is the target's working directory.
	Cwd string
}

func (t Target) host() string {
	if t.Host != "" {
		return t.Host
	}
	return "127.0.0.1"
}

// Adapter builds the pieces needed to attach through one kind of adapter.
type Adapter interface {
	// Kind returns the adapter kind.
	Kind() Kind

	// Name returns a human-readable adapter name.
	Name() string

	// AdapterID is sent with the initialize request.
	AdapterID() string

	// Command returns the argv that starts the adapter on stdio.
	Command() ([]string, error)

	// Address returns the address of an adapter already listening for
	// t, or "" when the adapter has to be started.
	Address(t Target) string

	// AttachArgs returns the arguments for the attach request.
	AttachArgs(t Target) (map[string]any, error)
}

// Registry holds the known adapters.
type Registry struct {
	adapters map[Kind]Adapter
}

// NewRegistry creates a registry with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[Kind]Adapter)}
	r.Register(Delve{})
	r.Register(Python{})
	r.Register(NodeJS{})
	r.Register(Generic{})
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Lookup returns the adapter for kind.
func (r *Registry) Lookup(kind Kind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("unknown adapter kind: %s", kind)
	}
	return a, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// FindExecutable searches for an executable in PATH.
var FindExecutable = func(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}
