package session

import (
	"context"
	"fmt"
	"time"
)

// QoS is the MQTT delivery guarantee requested for an operation.
// It is passed through to the engine unchanged.
type QoS byte

// QoS levels.
const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Validate returns ErrInvalidQoS for levels above ExactlyOnce.
func (q QoS) Validate() error {
	if q > ExactlyOnce {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, q)
	}
	return nil
}

// Message is an acknowledged publish: the topic and body echoed back by
// the engine.
type Message struct {
	Topic string
	Body  string
}

// Inbound is a message delivered by the engine on a subscribed topic.
type Inbound struct {
	Topic   string
	Payload []byte
}

// Credentials are the username/password pair used for a handshake.
// Both fields are empty for anonymous sessions.
type Credentials struct {
	Username string
	Password string
}

// ConnectRequest carries everything an engine needs for a handshake.
type ConnectRequest struct {
	Address     string
	Port        int
	ClientID    string
	Credentials Credentials

	// Secure selects TLS. CertificatePath is the trusted CA bundle (PEM).
	Secure               bool
	CertificatePath      string
	AcceptBadCertificate bool

	// WebSocket selects the WebSocket transport instead of raw TCP.
	WebSocket bool

	KeepAlive     time.Duration
	AutoReconnect bool
}

// Listener receives engine events. Nil fields are skipped.
//
// Engines must not hold internal locks while invoking a callback.
type Listener struct {
	// OnConnected fires on every completed handshake, including engine-driven
	// reconnects.
	OnConnected func()

	// OnConnectionLost fires when an established transport is severed.
	OnConnectionLost func(err error)

	// OnReconnecting fires when the engine starts an automatic reconnect.
	OnReconnecting func()

	// OnPublished echoes the topic and payload of an acknowledged publish.
	OnPublished func(topic string, payload []byte)

	// OnSubscribed fires when the broker grants a subscription.
	OnSubscribed func(topic string)

	// OnSubscribeFailed fires when the broker or engine rejects a subscription.
	OnSubscribeFailed func(topic string, err error)

	// OnUnsubscribed fires when an unsubscribe completes. err is nil when
	// the broker acknowledged it.
	OnUnsubscribed func(topic string, err error)

	// OnMessages delivers inbound messages in engine order.
	OnMessages func(batch []Inbound)
}

// Engine is the MQTT protocol engine the session drives. It performs the
// handshake, framing and transport I/O and reports results as events.
//
// Publish, Subscribe and Unsubscribe are fire-and-forget: a nil error means
// the request was handed to the transport, and completion is reported
// through the Listener. Engines return ErrConnectionLost (possibly
// wrapped) when the transport is not usable.
type Engine interface {
	// Connect performs the handshake and blocks until it succeeds, fails,
	// or ctx is done.
	Connect(ctx context.Context, req ConnectRequest) error

	// Disconnect closes the transport. It is safe to call when not connected.
	Disconnect()

	Publish(topic string, qos QoS, payload []byte) error
	Subscribe(topic string, qos QoS) error
	Unsubscribe(topic string) error

	// State reports the engine's view of the transport.
	State() ConnectionState

	// Listen replaces the engine's event listener. The returned function
	// detaches it; calling it after a later Listen is a no-op. Listen must
	// not block or invoke callbacks.
	Listen(l Listener) (cancel func())
}
