package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by New for zero-valued Config fields.
const (
	// DefaultPort is the broker port for plain TCP sessions.
	DefaultPort = 1883

	// DefaultSecurePort is the broker port for TLS sessions.
	DefaultSecurePort = 8883

	// DefaultTimeout bounds every operation when Config.Timeout is zero.
	DefaultTimeout = 10 * time.Second

	// DefaultWaiterGrace is how long a resolved connection-ready waiter is
	// kept before it is cleared.
	DefaultWaiterGrace = 500 * time.Millisecond

	// DefaultReconnectGrace is the pause before reconnecting out of the
	// Disconnecting state, giving the engine time to settle.
	DefaultReconnectGrace = time.Second

	// keepAliveRatio derives the keep-alive interval from the timeout.
	keepAliveRatio = 0.75

	// generatedClientIDPrefix prefixes client IDs generated for anonymous
	// non-secure sessions.
	generatedClientIDPrefix = "session-"
)

// Config holds the construction-time settings of a Session.
type Config struct {
	// Address is the broker host name or IP.
	Address string

	// Port defaults to 1883, or 8883 when Secure is set.
	Port int

	// ClientID must be non-empty for secure sessions. Non-secure sessions
	// get a generated ID when it is empty.
	ClientID string

	// Secure enables TLS. CertificatePath (a PEM CA bundle) is required
	// if and only if Secure is set.
	Secure          bool
	CertificatePath string

	// AcceptBadCertificate and WebSocket are passed through to the engine.
	AcceptBadCertificate bool
	WebSocket            bool

	// AutoReconnect lets the engine reconnect on its own after a lost
	// connection, in addition to the session's reconnect-on-use.
	AutoReconnect bool

	// Timeout bounds every operation. Keep-alive is 0.75 × Timeout.
	Timeout time.Duration

	// Logging enables the logger passed with WithLogger.
	Logging bool

	// WaiterGrace and ReconnectGrace tune the connection state machine.
	// A negative ReconnectGrace reconnects out of Disconnecting immediately.
	WaiterGrace    time.Duration
	ReconnectGrace time.Duration

	// Breaker configures the reconnect circuit breaker.
	Breaker BreakerConfig

	// PublishRate limits publishes per second (0 disables).
	// PublishBurst defaults to 1 when a rate is set.
	PublishRate  float64
	PublishBurst int
}

// BreakerConfig configures the reconnect circuit breaker. After
// FailureThreshold consecutive failed reconnects the session stops
// reconnecting for ResetTimeout. A zero threshold disables the breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

// KeepAlive returns the keep-alive interval derived from the timeout.
func (c Config) KeepAlive() time.Duration {
	return time.Duration(float64(c.Timeout) * keepAliveRatio)
}

// withDefaults validates the caller contract and fills zero values.
func (c Config) withDefaults() (Config, error) {
	if c.Address == "" {
		return c, ErrMissingAddress
	}
	if c.Secure {
		if c.ClientID == "" {
			return c, ErrMissingClientID
		}
		if c.CertificatePath == "" {
			return c, ErrMissingCertificate
		}
	} else if c.CertificatePath != "" {
		return c, fmt.Errorf("%w: certificate %q given for a non-secure session", ErrMissingCertificate, c.CertificatePath)
	}

	if c.Port == 0 {
		c.Port = DefaultPort
		if c.Secure {
			c.Port = DefaultSecurePort
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return c, fmt.Errorf("mqtt session: port %d out of range", c.Port)
	}
	if c.ClientID == "" {
		c.ClientID = generatedClientIDPrefix + uuid.NewString()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WaiterGrace <= 0 {
		c.WaiterGrace = DefaultWaiterGrace
	}
	if c.ReconnectGrace < 0 {
		c.ReconnectGrace = 0
	} else if c.ReconnectGrace == 0 {
		c.ReconnectGrace = DefaultReconnectGrace
	}
	if c.Breaker.FailureThreshold > 0 && c.Breaker.ResetTimeout <= 0 {
		c.Breaker.ResetTimeout = c.Timeout
	}
	if c.PublishRate > 0 && c.PublishBurst <= 0 {
		c.PublishBurst = 1
	}
	return c, nil
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the logger used when Config.Logging is enabled.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}
