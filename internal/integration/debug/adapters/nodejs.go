package adapters

// defaultInspectorPort is the port node --inspect listens on.
const defaultInspectorPort = 9229

// NodeJS attaches to the Node.js inspector. The adapter runs separately
// and is reached by address.
type NodeJS struct{}

// Kind returns KindNodeJS.
func (NodeJS) Kind() Kind { return KindNodeJS }

// Name returns a human-readable adapter name.
func (NodeJS) Name() string { return "Node.js Debugger" }

// AdapterID returns the initialize adapter id.
func (NodeJS) AdapterID() string { return "pwa-node" }

// Command returns ErrNoCommand.
func (NodeJS) Command() ([]string, error) {
	return nil, ErrNoCommand
}

// Address returns "": the adapter address comes from configuration.
func (NodeJS) Address(Target) string { return "" }

// AttachArgs points the adapter at the target's inspector port.
func (NodeJS) AttachArgs(t Target) (map[string]any, error) {
	port := t.Port
	if port == 0 {
		port = defaultInspectorPort
	}
	args := map[string]any{
		"type":    "pwa-node",
		"request": "attach",
		"address": t.host(),
		"port":    port,
	}
	if t.ProcessID > 0 {
		args["processId"] = t.ProcessID
	}
	if t.Cwd != "" {
		args["cwd"] = t.Cwd
	}
	return args, nil
}

// Generic is an adapter configured entirely by hand.
type Generic struct{}

// Kind returns KindGeneric.
func (Generic) Kind() Kind { return KindGeneric }

// Name returns a human-readable adapter name.
func (Generic) Name() string { return "Generic DAP adapter" }

// AdapterID returns an empty id.
func (Generic) AdapterID() string { return "" }

// Command returns ErrNoCommand.
func (Generic) Command() ([]string, error) {
	return nil, ErrNoCommand
}

// Address returns "".
func (Generic) Address(Target) string { return "" }

// AttachArgs passes only the process id and working directory.
func (Generic) AttachArgs(t Target) (map[string]any, error) {
	args := map[string]any{}
	if t.ProcessID > 0 {
		args["processId"] = t.ProcessID
	}
	if t.Cwd != "" {
		args["cwd"] = t.Cwd
	}
	return args, nil
}
