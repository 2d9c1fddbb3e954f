package debug

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/attachgate/internal/integration/debug/dap"
)

// ConnectRetry configures how the host retries opening a connection to an
// adapter that is still starting.
type ConnectRetry struct {
	// Attempts is the number of dials. Values below one mean one.
	Attempts int

	// Delay is the wait before the second dial. It doubles after every
	// failure up to MaxDelay.
	Delay time.Duration

	// MaxDelay caps the wait between dials. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultConnectRetry returns the retry policy used by the console.
func DefaultConnectRetry() ConnectRetry {
	return ConnectRetry{
		Attempts: 3,
		Delay:    200 * time.Millisecond,
		MaxDelay: 2 * time.Second,
	}
}

// dial calls fn until it succeeds, the attempts run out, or ctx is done.
func (r ConnectRetry) dial(ctx context.Context, logger *slog.Logger, fn func(context.Context) (dap.Transport, error)) (dap.Transport, error) {
	attempts := max(r.Attempts, 1)
	delay := r.Delay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		transport, err := fn(ctx)
		if err == nil {
			return transport, nil
		}
		lastErr = err

		if attempt == attempts || ctx.Err() != nil {
			break
		}
		logger.Debug("connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if r.MaxDelay > 0 && delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}

	if attempts > 1 {
		return nil, fmt.Errorf("%d attempts: %w", attempts, lastErr)
	}
	return nil, lastErr
}
