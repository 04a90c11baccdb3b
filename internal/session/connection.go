package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Connect performs the initial handshake with the given credentials.
//
// Username and password must both be empty (anonymous) or both be set.
// On success they are cached for later reconnects. Connect is a no-op when
// the session is already connected, and joins an attempt already in
// flight.
//
// Returns:
//   - ErrCredentialsMismatch when exactly one credential is given
//   - an error wrapping ErrConnectionFailed when the handshake fails
//   - *TimeoutError when the handshake outlives the session timeout
func (s *Session) Connect(ctx context.Context, username, password string) error {
	if (username == "") != (password == "") {
		return ErrCredentialsMismatch
	}
	creds := Credentials{Username: username, Password: password}

	ctx, cancel := s.withTimeout(ctx, string(OpConnect))
	defer cancel()

	start := time.Now()
	err := s.establish(ctx, &creds)
	s.observer.OperationCompleted(OpConnect, "", time.Since(start), err)
	return err
}

// Disconnect unsubscribes every registered topic, clears the registry and
// closes the transport. Outstanding requests are abandoned and end with
// their own timeouts; a pending connection attempt fails with
// ErrNotConnected. Waiting for the engine to take the unsubscribes is
// bounded by the session timeout.
func (s *Session) Disconnect() {
	topics := s.registry.clear()

	s.mu.Lock()
	stop := s.stopListening
	s.stopListening = nil
	connected := s.state == StateConnected
	w := s.ready
	s.ready = nil
	s.setStateLocked(StateDisconnecting)
	s.mu.Unlock()

	if w != nil {
		w.resolve(struct{}{}, ErrNotConnected)
	}

	if connected && len(topics) > 0 {
		s.unsubscribeAll(topics)
	}
	if stop != nil {
		stop()
	}
	s.engine.Disconnect()

	s.mu.Lock()
	if s.state == StateDisconnecting {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	s.logger.Info("MQTT disconnected", "client_id", s.cfg.ClientID, "unsubscribed", len(topics))
}

// unsubscribeAll hands each topic to the engine, giving up on a stalled
// engine after the session timeout.
func (s *Session) unsubscribeAll(topics []string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, topic := range topics {
			if err := s.engine.Unsubscribe(topic); err != nil {
				s.logger.Debug("MQTT unsubscribe on disconnect failed", "topic", topic, "error", err)
			}
		}
	}()

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("MQTT unsubscribe on disconnect abandoned",
			"topics", len(topics),
			"after", s.cfg.Timeout,
		)
	}
}

// ensureConnected makes sure the session is connected before an operation,
// reconnecting with the cached credentials when needed.
func (s *Session) ensureConnected(ctx context.Context) error {
	return s.establish(ctx, nil)
}

// establish drives the state machine towards Connected. A nil creds means
// a reconnect with the cached credentials, which goes through the breaker.
func (s *Session) establish(ctx context.Context, creds *Credentials) error {
	s.dropIfTimedOut()

	switch state := s.State(); state {
	case StateConnected:
		return nil
	case StateConnecting:
		return s.join(ctx)
	case StateDisconnecting:
		if err := s.pause(ctx, s.cfg.ReconnectGrace); err != nil {
			return err
		}
		return s.attempt(ctx, creds)
	case StateFaulted, StateDisconnected:
		return s.attempt(ctx, creds)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownState, state)
	}
}

// join waits on the connection attempt already in flight.
func (s *Session) join(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	w := s.ready
	if w == nil {
		w = newFuture[struct{}]()
		s.ready = w
	}
	s.mu.Unlock()

	_, err := await(s, ctx, w)
	return err
}

// attempt starts a connection attempt unless another caller got there
// first, in which case it joins that one.
func (s *Session) attempt(ctx context.Context, creds *Credentials) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return s.join(ctx)
	}

	reconnect := creds == nil
	use := s.creds
	if !reconnect {
		use = *creds
	}
	w := s.beginConnectingLocked()
	s.mu.Unlock()

	if !reconnect || s.breaker == nil {
		return s.dial(ctx, use, w)
	}

	s.logger.Info("MQTT reconnecting", "address", s.cfg.Address, "port", s.cfg.Port)
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.dial(ctx, use, w)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrReconnectSuspended, err)
		s.abort(w, err)
	}
	return err
}

// dial runs one handshake for the attempt owning waiter w. An attempt that
// Disconnect or a newer attempt replaced while it was in flight leaves the
// engine alone and only reports ErrNotConnected.
func (s *Session) dial(ctx context.Context, creds Credentials, w *future[struct{}]) error {
	s.mu.Lock()
	s.dialing++
	s.mu.Unlock()

	err := s.engine.Connect(ctx, s.connectRequest(creds))
	if err != nil {
		if !s.finishDial(w) {
			s.logger.Debug("MQTT superseded handshake failed", "error", err)
			return ErrNotConnected
		}
		s.engine.Disconnect()
		if ctx.Err() != nil {
			err = s.expired(ctx)
		} else {
			err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		s.abort(w, err)
		s.logger.Warn("MQTT connection failed",
			"address", s.cfg.Address,
			"port", s.cfg.Port,
			"error", err,
		)
		return err
	}

	s.mu.Lock()
	s.dialing--
	if s.ready != w {
		s.mu.Unlock()
		s.logger.Debug("MQTT superseded handshake discarded", "client_id", s.cfg.ClientID)
		return ErrNotConnected
	}
	// Listen is registered under s.mu so a superseded attempt can never
	// replace the listener of the connection that superseded it.
	s.stopListening = s.engine.Listen(s.listener())
	s.creds = creds
	s.timedOut = false
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.restoreSubscriptions()
	w.resolve(struct{}{}, nil)
	s.releaseWaiter(w)

	s.logger.Info("MQTT connected",
		"address", s.cfg.Address,
		"port", s.cfg.Port,
		"client_id", s.cfg.ClientID,
	)
	return nil
}

// finishDial ends a handshake that will not complete the attempt and
// reports whether w is still the current attempt.
func (s *Session) finishDial(w *future[struct{}]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialing--
	return s.ready == w
}

// abort fails the attempt owning waiter w.
func (s *Session) abort(w *future[struct{}], err error) {
	s.mu.Lock()
	if s.ready == w {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	w.resolve(struct{}{}, err)
	s.releaseWaiter(w)
}

func (s *Session) connectRequest(creds Credentials) ConnectRequest {
	return ConnectRequest{
		Address:              s.cfg.Address,
		Port:                 s.cfg.Port,
		ClientID:             s.cfg.ClientID,
		Credentials:          creds,
		Secure:               s.cfg.Secure,
		CertificatePath:      s.cfg.CertificatePath,
		AcceptBadCertificate: s.cfg.AcceptBadCertificate,
		WebSocket:            s.cfg.WebSocket,
		KeepAlive:            s.cfg.KeepAlive(),
		AutoReconnect:        s.cfg.AutoReconnect,
	}
}

// restoreSubscriptions re-issues every registered subscription after a
// connect. Failures are logged; the engine reports them as events too.
func (s *Session) restoreSubscriptions() {
	subs := s.registry.snapshot()
	if len(subs) == 0 {
		return
	}

	for topic, sub := range subs {
		if err := s.engine.Subscribe(topic, sub.qos); err != nil {
			s.logger.Error("MQTT failed to restore subscription",
				"topic", topic,
				"error", err,
			)
		}
	}
	s.logger.Info("MQTT subscriptions restored", "count", len(subs))
}

// beginConnectingLocked enters Connecting with a fresh ready waiter.
// s.mu must be held.
func (s *Session) beginConnectingLocked() *future[struct{}] {
	w := newFuture[struct{}]()
	s.ready = w
	s.setStateLocked(StateConnecting)
	return w
}

// releaseWaiter clears w once the grace period has passed, unless a newer
// attempt replaced it.
func (s *Session) releaseWaiter(w *future[struct{}]) {
	time.AfterFunc(s.cfg.WaiterGrace, func() {
		s.mu.Lock()
		if s.ready == w {
			s.ready = nil
		}
		s.mu.Unlock()
	})
}

// setStateLocked records a transition. s.mu must be held.
func (s *Session) setStateLocked(next ConnectionState) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	s.logger.Debug("MQTT session state changed", "from", prev.String(), "to", next.String())
	s.observer.StateChanged(prev, next)
}

// dropIfTimedOut closes a transport that may be stale after a timeout.
// Attempts this session is dialling are left alone.
func (s *Session) dropIfTimedOut() {
	s.mu.Lock()
	if !s.timedOut || s.dialing > 0 || s.state == StateDisconnected || s.state == StateDisconnecting {
		s.mu.Unlock()
		return
	}
	w := s.ready
	s.ready = nil
	s.setStateLocked(StateDisconnecting)
	s.mu.Unlock()

	s.logger.Warn("MQTT dropping connection after timeout", "client_id", s.cfg.ClientID)
	if w != nil {
		w.resolve(struct{}{}, ErrNotConnected)
	}
	s.engine.Disconnect()

	s.mu.Lock()
	if s.state == StateDisconnecting {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()
}

// markFaulted moves a connected session to Faulted after the engine
// reported a lost connection synchronously.
func (s *Session) markFaulted(err error) {
	s.mu.Lock()
	if s.state == StateConnected {
		s.setStateLocked(StateFaulted)
	}
	s.mu.Unlock()

	s.logger.Warn("MQTT connection lost", "error", err)
}

func (s *Session) handleConnectionLost(err error) {
	s.markFaulted(fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

func (s *Session) handleReconnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dialing > 0 || s.state != StateFaulted {
		return
	}
	s.beginConnectingLocked()
	s.logger.Info("MQTT engine reconnecting", "client_id", s.cfg.ClientID)
}

// handleConnected completes a reconnect driven by the engine itself.
// Handshakes dialled by the session complete in dial.
func (s *Session) handleConnected() {
	s.mu.Lock()
	if s.dialing > 0 || (s.state != StateConnecting && s.state != StateFaulted) {
		s.mu.Unlock()
		return
	}
	w := s.ready
	s.timedOut = false
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.restoreSubscriptions()
	if w != nil {
		w.resolve(struct{}{}, nil)
		s.releaseWaiter(w)
	}
	s.logger.Info("MQTT engine reconnected", "client_id", s.cfg.ClientID)
}
