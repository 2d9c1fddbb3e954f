package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the complete attachgate configuration.
type Config struct {
	Target  TargetConfig  `toml:"target" yaml:"target" json:"target"`
	Attach  AttachConfig  `toml:"attach" yaml:"attach" json:"attach"`
	Stream  StreamConfig  `toml:"stream" yaml:"stream" json:"stream"`
	Command CommandConfig `toml:"command" yaml:"command" json:"command"`
	Logging LoggingConfig `toml:"logging" yaml:"logging" json:"logging"`
}

// TargetConfig locates the debug adapter and the program it attaches to.
type TargetConfig struct {
	// Name identifies the target in logs. Defaults to the address or
	// adapter command.
	Name string `toml:"name,omitempty" yaml:"name,omitempty" json:"name,omitempty"`

	// Adapter selects a known adapter kind ("delve", "python", "nodejs",
	// "generic") that fills in the command, adapter id and attach
	// arguments.
	Adapter string `toml:"adapter,omitempty" yaml:"adapter,omitempty" json:"adapter,omitempty"`

	// Address is the host:port of a debug adapter listening on TCP.
	Address string `toml:"address,omitempty" yaml:"address,omitempty" json:"address,omitempty"`

	// Command starts a debug adapter on stdio when Address is empty.
	Command []string `toml:"command,omitempty" yaml:"command,omitempty" json:"command,omitempty"`

	// AdapterID and ClientID are sent with the initialize request.
	AdapterID string `toml:"adapter_id,omitempty" yaml:"adapter_id,omitempty" json:"adapter_id,omitempty"`
	ClientID  string `toml:"client_id" yaml:"client_id" json:"client_id"`

	// ProcessID, Host, Port and Cwd describe the program to attach to.
	ProcessID int    `toml:"process_id,omitempty" yaml:"process_id,omitempty" json:"process_id,omitempty"`
	Host      string `toml:"host,omitempty" yaml:"host,omitempty" json:"host,omitempty"`
	Port      int    `toml:"port,omitempty" yaml:"port,omitempty" json:"port,omitempty"`
	Cwd       string `toml:"cwd,omitempty" yaml:"cwd,omitempty" json:"cwd,omitempty"`
}

// AttachConfig tunes the attachment.
type AttachConfig struct {
	// Arguments are merged over the adapter's attach arguments. Keys are
	// paths, so "connect.port" sets one field of a nested object.
	Arguments map[string]any `toml:"arguments,omitempty" yaml:"arguments,omitempty" json:"arguments,omitempty"`

	// FailureBackoff delays a retry after a failed transition.
	FailureBackoff string `toml:"failure_backoff" yaml:"failure_backoff" json:"failure_backoff"`

	// ConnectAttempts and ConnectDelay retry the connection to an adapter
	// that is still starting.
	ConnectAttempts int    `toml:"connect_attempts" yaml:"connect_attempts" json:"connect_attempts"`
	ConnectDelay    string `toml:"connect_delay" yaml:"connect_delay" json:"connect_delay"`

	// HandshakeTimeout bounds one activation, from dialing the adapter to
	// configurationDone. Zero disables the limit.
	HandshakeTimeout string `toml:"handshake_timeout" yaml:"handshake_timeout" json:"handshake_timeout"`
}

// StreamConfig tunes the dependent event stream.
type StreamConfig struct {
	// ExceptionFilters are enabled while the stream is active.
	ExceptionFilters []string `toml:"exception_filters" yaml:"exception_filters" json:"exception_filters"`
}

// CommandConfig tunes commands issued through the gateway.
type CommandConfig struct {
	// Timeout bounds waiting for the attachment plus running the command.
	Timeout string `toml:"timeout" yaml:"timeout" json:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" yaml:"level" json:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			ClientID: "attachgate",
		},
		Attach: AttachConfig{
			FailureBackoff:   "1s",
			ConnectAttempts:  3,
			ConnectDelay:     "200ms",
			HandshakeTimeout: "10s",
		},
		Stream: StreamConfig{
			ExceptionFilters: []string{},
		},
		Command: CommandConfig{
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks every setting and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	t := c.Target
	if t.Adapter == "" && t.Address == "" && len(t.Command) == 0 {
		add("target", "one of adapter, address or command is required", "")
	}
	if len(t.Command) > 0 && strings.TrimSpace(t.Command[0]) == "" {
		add("target.command", "executable must not be empty", t.Command)
	}
	if t.ProcessID < 0 {
		add("target.process_id", "must not be negative", t.ProcessID)
	}
	if t.Port < 0 || t.Port > 65535 {
		add("target.port", "must be between 0 and 65535", t.Port)
	}

	if d, err := time.ParseDuration(c.Attach.FailureBackoff); err != nil || d < 0 {
		add("attach.failure_backoff", "must be a non-negative duration", c.Attach.FailureBackoff)
	}
	if c.Attach.ConnectAttempts < 1 {
		add("attach.connect_attempts", "must be at least 1", c.Attach.ConnectAttempts)
	}
	if d, err := time.ParseDuration(c.Attach.ConnectDelay); err != nil || d < 0 {
		add("attach.connect_delay", "must be a non-negative duration", c.Attach.ConnectDelay)
	}
	if d, err := time.ParseDuration(c.Attach.HandshakeTimeout); err != nil || d < 0 {
		add("attach.handshake_timeout", "must be a non-negative duration", c.Attach.HandshakeTimeout)
	}
	if d, err := time.ParseDuration(c.Command.Timeout); err != nil || d <= 0 {
		add("command.timeout", "must be a positive duration", c.Command.Timeout)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		add("logging.level", "must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format", "must be text or json", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// FailureBackoff returns the parsed attach failure backoff.
func (c *Config) FailureBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Attach.FailureBackoff)
	return d
}

// ConnectDelay returns the parsed delay between connection attempts.
func (c *Config) ConnectDelay() time.Duration {
	d, _ := time.ParseDuration(c.Attach.ConnectDelay)
	return d
}

// HandshakeTimeout returns the parsed activation limit.
func (c *Config) HandshakeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Attach.HandshakeTimeout)
	return d
}

// CommandTimeout returns the parsed command timeout.
func (c *Config) CommandTimeout() time.Duration {
	d, err := time.ParseDuration(c.Command.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// LogLevel returns the parsed log level, info when invalid.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// TargetName returns the configured target name or a fallback derived
// from the address, command or adapter.
func (c *Config) TargetName() string {
	t := c.Target
	switch {
	case t.Name != "":
		return t.Name
	case t.Address != "":
		return t.Address
	case len(t.Command) > 0:
		return t.Command[0]
	case t.ProcessID > 0:
		return fmt.Sprintf("%s:%d", t.Adapter, t.ProcessID)
	default:
		return t.Adapter
	}
}
