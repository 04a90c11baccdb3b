package mqtt

import "errors"

// Domain-specific errors for MQTT engine operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the handshake with the broker fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrSuperseded is wrapped when a handshake completes after its client
	// was replaced by Disconnect or a newer Connect.
	ErrSuperseded = errors.New("mqtt: handshake superseded")

	// ErrInvalidCertificate is returned when the trusted certificate file
	// cannot be read or holds no PEM certificates.
	ErrInvalidCertificate = errors.New("mqtt: invalid trusted certificate")

	// ErrSubscriptionRefused is reported when the broker grants a
	// subscription with a failure return code.
	ErrSubscriptionRefused = errors.New("mqtt: subscription refused by broker")

	// ErrUnsubscribeFailed is reported when the broker does not acknowledge
	// an unsubscribe.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)
