// Package config loads the attachgate configuration.
//
// Configuration is read from a TOML, YAML or JSONC file, chosen by extension,
// over built-in defaults. Environment variables override the file:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← Highest priority
//	├─────────────────────────────┤
//	│  2. Config File             │  ← attachgate.{toml,yaml,jsonc}
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// A minimal TOML file attaching delve to a local process:
//
//	[target]
//	adapter = "delve"
//	process_id = 4242
//
//	[stream]
//	exception_filters = ["panic"]
//
// Watch reloads the file when it changes so long-lived settings such as the
// log level can be applied without a restart.
package config
