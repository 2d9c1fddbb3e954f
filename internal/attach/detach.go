package attach

import "context"

// DetachReason explains why the attachment was lost outside our control.
type DetachReason string

const (
	// ReasonCancelledByUser means the user dismissed the attachment notice.
	// It revokes permission.
	ReasonCancelledByUser DetachReason = "cancelled-by-user"
	// ReasonTargetClosed means the debug target went away.
	ReasonTargetClosed DetachReason = "target-closed"
	// ReasonConnectionLost means the connection to the adapter broke.
	ReasonConnectionLost DetachReason = "connection-lost"
)

// DetachEvent reports an attachment lost outside the Orchestrator.
type DetachEvent struct {
	Reason DetachReason
	Detail string
}

// NotifyDetached records that the attachment is already gone. The
// attachment and the stream are forced Inactive without running their
// deactivate actions. A user cancellation also rejects the permission.
func (o *Orchestrator) NotifyDetached(ev DetachEvent) error {
	return o.loop.do(func() {
		o.mutate(func() {
			o.logger.Info("attachment lost", "reason", ev.Reason, "detail", ev.Detail)
			if ev.Reason == ReasonCancelledByUser {
				o.permission.Reject()
			}
			o.attach.ForceState(StateInactive)
			// The stream went with the attachment.
			o.stream.ForceState(StateInactive)
		})
	})
}

// ListenDetached forwards events from ch to NotifyDetached until ctx is
// done, ch is closed, or the orchestrator is closed.
func (o *Orchestrator) ListenDetached(ctx context.Context, ch <-chan DetachEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.ctx.Done():
			return ErrClosed
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := o.NotifyDetached(ev); err != nil {
				return err
			}
		}
	}
}
