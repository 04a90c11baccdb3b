package session

import (
	"context"
	"errors"
	"time"
)

// withTimeout bounds ctx by the session timeout. When the session deadline
// is what ends the context, its cause is a *TimeoutError naming op.
func (s *Session) withTimeout(ctx context.Context, op string) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(ctx, s.cfg.Timeout, &TimeoutError{Op: op, After: s.cfg.Timeout})
}

// expired converts a finished context into the caller's error. A session
// timeout marks the session timed out; a cancelled or expired parent
// context is returned unchanged.
func (s *Session) expired(ctx context.Context) error {
	var te *TimeoutError
	if errors.As(context.Cause(ctx), &te) {
		s.markTimedOut(te)
		return te
	}
	return ctx.Err()
}

// await blocks until f resolves or ctx ends.
func await[T any](s *Session, ctx context.Context, f *future[T]) (T, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		// Prefer a result that raced with the deadline.
		if f.isResolved() {
			return f.result()
		}
		var zero T
		return zero, s.expired(ctx)
	}
}

// pause sleeps for d unless ctx ends first.
func (s *Session) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return s.expired(ctx)
	}
}

func (s *Session) markTimedOut(te *TimeoutError) {
	s.mu.Lock()
	s.timedOut = true
	s.mu.Unlock()

	s.logger.Warn("MQTT operation timed out", "op", te.Op, "after", te.After)
	s.observer.TimedOut(te.Op)
}
