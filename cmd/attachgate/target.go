package main

import (
	"fmt"
	"log/slog"

	"github.com/dshills/attachgate/internal/config"
	"github.com/dshills/attachgate/internal/integration/debug"
	"github.com/dshills/attachgate/internal/integration/debug/adapters"
)

// hostConfig resolves the configured target into a host configuration.
// A known adapter kind supplies defaults; explicit settings win.
func hostConfig(cfg *config.Config, registry *adapters.Registry) (debug.Config, error) {
	t := cfg.Target
	hc := debug.Config{
		Name:             cfg.TargetName(),
		Address:          t.Address,
		Command:          t.Command,
		AdapterID:        t.AdapterID,
		ClientID:         t.ClientID,
		ClientName:       "attachgate",
		ExceptionFilters: cfg.Stream.ExceptionFilters,
		Retry:            debug.DefaultConnectRetry(),
	}
	hc.Retry.Attempts = cfg.Attach.ConnectAttempts
	hc.Retry.Delay = cfg.ConnectDelay()
	hc.HandshakeTimeout = cfg.HandshakeTimeout()

	var base map[string]any
	if t.Adapter != "" {
		adapter, err := registry.Lookup(adapters.Kind(t.Adapter))
		if err != nil {
			return debug.Config{}, err
		}
		target := adapters.Target{
			ProcessID: t.ProcessID,
			Host:      t.Host,
			Port:      t.Port,
			Cwd:       t.Cwd,
		}

		if hc.AdapterID == "" {
			hc.AdapterID = adapter.AdapterID()
		}
		if hc.Address == "" && len(hc.Command) == 0 {
			if addr := adapter.Address(target); addr != "" {
				hc.Address = addr
			} else {
				argv, err := adapter.Command()
				if err != nil {
					return debug.Config{}, fmt.Errorf("%s: %w", adapter.Name(), err)
				}
				hc.Command = argv
			}
		}

		base, err = adapter.AttachArgs(target)
		if err != nil {
			return debug.Config{}, fmt.Errorf("%s: %w", adapter.Name(), err)
		}
	}

	args, err := adapters.MergeArgs(base, cfg.Attach.Arguments)
	if err != nil {
		return debug.Config{}, err
	}
	hc.AttachArguments = args

	return hc, nil
}

func buildHost(cfg *config.Config, registry *adapters.Registry, logger *slog.Logger, events func(debug.StreamEvent)) (*debug.Host, error) {
	hc, err := hostConfig(cfg, registry)
	if err != nil {
		return nil, err
	}
	hc.Logger = logger
	hc.Events = events
	return debug.NewHost(hc)
}
