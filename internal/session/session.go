package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Session is a request/response MQTT client session built on an Engine.
//
// It owns one logical connection, reconnecting on demand with the last
// successful credentials, and correlates engine acknowledgements with the
// callers waiting for them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	cfg      Config
	engine   Engine
	logger   Logger
	observer Observer

	// breaker guards reconnects (nil when disabled).
	breaker *gobreaker.CircuitBreaker

	// limiter paces publishes (nil when disabled).
	limiter *rate.Limiter

	correlator *correlator
	registry   *registry

	// mu guards the connection fields below.
	mu            sync.Mutex
	state         ConnectionState
	creds         Credentials
	timedOut      bool
	dialing       int
	ready         *future[struct{}]
	stopListening func()
}

// New validates cfg and creates a disconnected Session. It never touches
// the network.
//
// Returns:
//   - ErrMissingAddress, ErrMissingClientID or ErrMissingCertificate when
//     the configuration violates the caller contract
//   - ErrMissingEngine when engine is nil
func New(cfg Config, engine Engine, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, ErrMissingEngine
	}

	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		engine:     engine,
		logger:     noopLogger{},
		observer:   noopObserver{},
		correlator: newCorrelator(),
		registry:   newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !cfg.Logging {
		s.logger = noopLogger{}
	}

	if cfg.Breaker.FailureThreshold > 0 {
		s.breaker = newReconnectBreaker(cfg.ClientID, cfg.Breaker, s.logger)
	}
	if cfg.PublishRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.PublishRate), cfg.PublishBurst)
	}

	return s, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is connected and the engine
// agrees that the transport is up.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected && s.engine.State() == StateConnected
}

// HasSubscription reports whether topic is in the subscription registry.
func (s *Session) HasSubscription(topic string) bool {
	_, ok := s.registry.lookup(topic)
	return ok
}

// SubscriptionCount returns the number of registered topics.
func (s *Session) SubscriptionCount() int {
	return s.registry.len()
}

// HealthCheck verifies the session is connected.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, ErrNotConnected otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt session health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// listener wires engine events to the state machine, correlator and
// dispatcher.
func (s *Session) listener() Listener {
	return Listener{
		OnConnected:       s.handleConnected,
		OnConnectionLost:  s.handleConnectionLost,
		OnReconnecting:    s.handleReconnecting,
		OnPublished:       s.handlePublished,
		OnSubscribed:      s.handleSubscribed,
		OnSubscribeFailed: s.handleSubscribeFailed,
		OnUnsubscribed:    s.handleUnsubscribed,
		OnMessages:        s.dispatch,
	}
}
