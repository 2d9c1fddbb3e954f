package attach

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Command is one operation performed through the attachment.
type Command func(ctx context.Context) (any, error)

// commandWaiter is the single admission slot for commands waiting on the
// attachment.
type commandWaiter struct {
	id    string
	ready chan error
}

func (w *commandWaiter) resolve(err error) {
	select {
	case w.ready <- err:
	default:
	}
}

// admitCommand releases the waiting command once the attachment is Active.
// Runs on the loop goroutine.
func (o *Orchestrator) admitCommand() {
	if o.waiter == nil || o.attach.State() != StateActive {
		return
	}
	o.waiter.resolve(nil)
	o.waiter = nil
}

// IssueCommand holds the attachment for the duration of one command.
//
// It registers attachment interest, waits until the attachment is Active,
// runs cmd once and releases the interest when cmd returns, whether it
// failed or not. Only one command waits for the attachment at a time: a
// newer call replaces a waiting one, which then returns
// ErrCommandSuperseded without running.
func (o *Orchestrator) IssueCommand(ctx context.Context, cmd Command) (any, error) {
	w := &commandWaiter{
		id:    uuid.NewString(),
		ready: make(chan error, 1),
	}
	logger := o.logger.With("command", w.id)

	var lease *Lease
	if err := o.loop.do(func() {
		if o.waiter != nil {
			logger.Debug("superseding waiting command", "previous", o.waiter.id)
			o.waiter.resolve(ErrCommandSuperseded)
		}
		o.waiter = w
		o.mutate(o.attachInterest.Increment)
		lease = o.newLease("attachment", o.attachInterest)
	}); err != nil {
		return nil, err
	}
	defer lease.Release()

	start := time.Now()
	select {
	case err := <-w.ready:
		if err != nil {
			logger.Debug("command dropped", "error", err)
			return nil, err
		}
	case <-ctx.Done():
		_ = o.loop.do(func() {
			if o.waiter == w {
				o.waiter = nil
			}
		})
		return nil, ctx.Err()
	}

	logger.Debug("command admitted", "waited", time.Since(start))
	result, err := cmd(ctx)
	if err != nil {
		logger.Warn("command failed", "error", err)
	}
	return result, err
}

// Issue is IssueCommand with a typed result.
func Issue[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := o.IssueCommand(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}
