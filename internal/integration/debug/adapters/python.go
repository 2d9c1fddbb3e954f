package adapters

import "fmt"

// Python attaches to Python programs through debugpy.
type Python struct{}

// Kind returns KindPython.
func (Python) Kind() Kind { return KindPython }

// Name returns a human-readable adapter name.
func (Python) Name() string { return "debugpy (Python Debugger)" }

// AdapterID returns the initialize adapter id.
func (Python) AdapterID() string { return "python" }

// Command returns `python3 -m debugpy.adapter`.
func (Python) Command() ([]string, error) {
	python, err := FindExecutable("python3")
	if err != nil {
		python, err = FindExecutable("python")
		if err != nil {
			return nil, fmt.Errorf("python interpreter not found in PATH (install Python 3 and debugpy: pip install debugpy)")
		}
	}
	return []string{python, "-m", "debugpy.adapter"}, nil
}

// Address returns "": debugpy.adapter is always started locally.
func (Python) Address(Target) string { return "" }

// AttachArgs connects to a debugpy listener or injects into a process.
func (Python) AttachArgs(t Target) (map[string]any, error) {
	args := map[string]any{
		"type":       "python",
		"request":    "attach",
		"justMyCode": true,
	}
	switch {
	case t.Port > 0:
		args["connect"] = map[string]any{
			"host": t.host(),
			"port": t.Port,
		}
	case t.ProcessID > 0:
		args["processId"] = t.ProcessID
	default:
		return nil, fmt.Errorf("port or processId is required to attach with debugpy")
	}
	if t.Cwd != "" {
		args["cwd"] = t.Cwd
	}
	return args, nil
}
