package adapters

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	kinds := r.Kinds()
	want := []Kind{KindDelve, KindGeneric, KindNodeJS, KindPython}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds()[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}

	a, err := r.Lookup(KindDelve)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if a.AdapterID() != "go" {
		t.Errorf("AdapterID = %q", a.AdapterID())
	}

	if _, err := r.Lookup("lldb"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func withExecutables(t *testing.T, found map[string]string) {
	t.Helper()
	orig := FindExecutable
	FindExecutable = func(name string) (string, error) {
		if path, ok := found[name]; ok {
			return path, nil
		}
		return "", errors.New(name + " not found in PATH")
	}
	t.Cleanup(func() { FindExecutable = orig })
}

func TestCommands(t *testing.T) {
	withExecutables(t, map[string]string{
		"dlv":    "/usr/bin/dlv",
		"python": "/usr/bin/python",
	})

	cmd, err := Delve{}.Command()
	if err != nil || len(cmd) != 2 || cmd[0] != "/usr/bin/dlv" || cmd[1] != "dap" {
		t.Errorf("Delve.Command() = %v, %v", cmd, err)
	}

	// python3 is missing, python is used instead.
	cmd, err = Python{}.Command()
	if err != nil || len(cmd) != 3 || cmd[0] != "/usr/bin/python" || cmd[2] != "debugpy.adapter" {
		t.Errorf("Python.Command() = %v, %v", cmd, err)
	}

	if _, err := (NodeJS{}).Command(); !errors.Is(err, ErrNoCommand) {
		t.Errorf("NodeJS.Command() = %v, want ErrNoCommand", err)
	}
	if _, err := (Generic{}).Command(); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Generic.Command() = %v, want ErrNoCommand", err)
	}
}

func TestCommandsMissingExecutable(t *testing.T) {
	withExecutables(t, nil)

	if _, err := (Delve{}).Command(); err == nil {
		t.Error("expected error without dlv")
	}
	if _, err := (Python{}).Command(); err == nil {
		t.Error("expected error without python")
	}
}

func TestDelveAttachArgs(t *testing.T) {
	d := Delve{}

	args, err := d.AttachArgs(Target{ProcessID: 42, Cwd: "/src"})
	if err != nil {
		t.Fatalf("AttachArgs: %v", err)
	}
	if args["mode"] != "local" || args["processId"] != 42 || args["cwd"] != "/src" {
		t.Errorf("local args = %v", args)
	}
	if addr := d.Address(Target{ProcessID: 42}); addr != "" {
		t.Errorf("local Address = %q, want empty", addr)
	}

	args, err = d.AttachArgs(Target{Port: 2345})
	if err != nil {
		t.Fatalf("AttachArgs: %v", err)
	}
	if args["mode"] != "remote" {
		t.Errorf("remote args = %v", args)
	}
	if addr := d.Address(Target{Port: 2345}); addr != "127.0.0.1:2345" {
		t.Errorf("remote Address = %q", addr)
	}

	if _, err := d.AttachArgs(Target{}); err == nil {
		t.Error("expected error without process id or port")
	}
}

func TestPythonAttachArgs(t *testing.T) {
	p := Python{}

	args, err := p.AttachArgs(Target{Host: "10.0.0.2", Port: 5678})
	if err != nil {
		t.Fatalf("AttachArgs: %v", err)
	}
	connect, ok := args["connect"].(map[string]any)
	if !ok || connect["host"] != "10.0.0.2" || connect["port"] != 5678 {
		t.Errorf("connect = %v", args["connect"])
	}

	args, err = p.AttachArgs(Target{ProcessID: 7})
	if err != nil {
		t.Fatalf("AttachArgs: %v", err)
	}
	if args["processId"] != 7 {
		t.Errorf("args = %v", args)
	}

	if _, err := p.AttachArgs(Target{}); err == nil {
		t.Error("expected error without port or process id")
	}
}

func TestNodeJSAttachArgs(t *testing.T) {
	args, err := NodeJS{}.AttachArgs(Target{})
	if err != nil {
		t.Fatalf("AttachArgs: %v", err)
	}
	if args["port"] != defaultInspectorPort || args["address"] != "127.0.0.1" {
		t.Errorf("args = %v", args)
	}
}

func TestGenericAttachArgs(t *testing.T) {
	args, err := Generic{}.AttachArgs(Target{})
	if err != nil {
		t.Fatalf("AttachArgs: %v", err)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want empty", args)
	}
}

func TestMergeArgs(t *testing.T) {
	base, err := Python{}.AttachArgs(Target{Port: 5678})
	if err != nil {
		t.Fatalf("AttachArgs: %v", err)
	}

	merged, err := MergeArgs(base, map[string]any{
		"justMyCode":   false,
		"connect.host": "10.0.0.9",
		"subProcess":   true,
	})
	if err != nil {
		t.Fatalf("MergeArgs: %v", err)
	}

	if merged["justMyCode"] != false || merged["subProcess"] != true {
		t.Errorf("top level overrides not applied: %v", merged)
	}
	if merged["request"] != "attach" {
		t.Errorf("request = %v, want attach", merged["request"])
	}
	connect, ok := merged["connect"].(map[string]any)
	if !ok {
		t.Fatalf("connect = %T, want object", merged["connect"])
	}
	if connect["host"] != "10.0.0.9" || connect["port"] != float64(5678) {
		t.Errorf("connect = %v", connect)
	}

	// The base map is not modified.
	if base["justMyCode"] != true {
		t.Errorf("base modified: %v", base)
	}
}

func TestMergeArgsEmpty(t *testing.T) {
	merged, err := MergeArgs(nil, nil)
	if err != nil {
		t.Fatalf("MergeArgs: %v", err)
	}
	if merged == nil || len(merged) != 0 {
		t.Errorf("merged = %v, want empty object", merged)
	}

	merged, err = MergeArgs(nil, map[string]any{"env.GODEBUG": "x=1"})
	if err != nil {
		t.Fatalf("MergeArgs: %v", err)
	}
	env, _ := merged["env"].(map[string]any)
	if env["GODEBUG"] != "x=1" {
		t.Errorf("merged = %v", merged)
	}
}
