package session

import (
	"errors"
	"fmt"
	"time"
)

// Domain-specific errors for session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingEngine is returned by New when no engine is supplied.
	ErrMissingEngine = errors.New("mqtt session: engine is required")

	// ErrMissingAddress is returned by New when the broker address is empty.
	ErrMissingAddress = errors.New("mqtt session: broker address is required")

	// ErrMissingClientID is returned by New for a secure session without a client ID.
	ErrMissingClientID = errors.New("mqtt session: client ID is required for secure sessions")

	// ErrMissingCertificate is returned by New for a secure session without a
	// trusted certificate, or a non-secure session that names one.
	ErrMissingCertificate = errors.New("mqtt session: certificate is required if and only if the session is secure")

	// ErrCredentialsMismatch is returned by Connect when only one of username
	// and password is supplied.
	ErrCredentialsMismatch = errors.New("mqtt session: username and password must be supplied together")

	// ErrConnectionFailed is returned when the engine handshake fails.
	ErrConnectionFailed = errors.New("mqtt session: connection failed")

	// ErrConnectionLost is returned by engines when the transport is severed.
	// It is the only engine error that fails an in-flight publish immediately.
	ErrConnectionLost = errors.New("mqtt session: connection lost")

	// ErrNotConnected is returned when the session was disconnected while
	// an operation waited for connectivity.
	ErrNotConnected = errors.New("mqtt session: not connected")

	// ErrUnknownState is returned when the connection state is not recognised.
	ErrUnknownState = errors.New("mqtt session: unknown connection state")

	// ErrReconnectSuspended is returned while the reconnect breaker is open.
	ErrReconnectSuspended = errors.New("mqtt session: reconnection suspended after repeated failures")

	// ErrTimeout is wrapped by every *TimeoutError.
	ErrTimeout = errors.New("mqtt session: operation timed out")

	// ErrSubscriptionFailed is wrapped by every *SubscriptionError.
	ErrSubscriptionFailed = errors.New("mqtt session: subscription failed")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt session: invalid topic")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt session: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidHandler is returned by Subscribe when the handler is nil.
	ErrInvalidHandler = errors.New("mqtt session: handler cannot be nil")
)

// TimeoutError reports an operation that did not complete within the
// session timeout.
type TimeoutError struct {
	// Op describes the operation, e.g. "publish sensors/temp".
	Op string

	// After is the timeout that elapsed.
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mqtt session: %s timed out after %v", e.Op, e.After)
}

// Unwrap lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// SubscriptionError reports a subscription rejected by the broker or the engine.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mqtt session: subscription to %q failed", e.Topic)
	}
	return fmt.Sprintf("mqtt session: subscription to %q failed: %v", e.Topic, e.Err)
}

// Unwrap exposes both ErrSubscriptionFailed and the engine cause.
func (e *SubscriptionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubscriptionFailed}
	}
	return []error{ErrSubscriptionFailed, e.Err}
}
