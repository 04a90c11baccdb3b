package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Subscribe registers handler for topic and waits for the broker to grant
// the subscription.
//
// The handler is registered before the engine is asked to subscribe, so
// messages arriving ahead of the grant are delivered. A refused
// subscription is rolled back, reinstating the handler it replaced.
// Topics are matched exactly, so wildcard filters are rejected with
// ErrInvalidTopic.
//
// Returns:
//   - nil when the subscription is granted
//   - *SubscriptionError when the engine or broker refuses it
//   - *TimeoutError when no answer arrives in time
func (s *Session) Subscribe(ctx context.Context, topic string, handler Handler, qos QoS) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if err := qos.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return ErrInvalidHandler
	}

	start := time.Now()
	err := s.subscribe(ctx, topic, handler, qos)
	s.observer.OperationCompleted(OpSubscribe, topic, time.Since(start), err)
	return err
}

func (s *Session) subscribe(ctx context.Context, topic string, handler Handler, qos QoS) error {
	ctx, cancel := s.withTimeout(ctx, fmt.Sprintf("%s %s", OpSubscribe, topic))
	defer cancel()

	if err := s.ensureConnected(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	s.registry.add(topic, subscription{handler: handler, qos: qos})
	pending := s.correlator.pendingSubscribe(topic)

	if err := s.engine.Subscribe(topic, qos); err != nil {
		s.registry.rollback(topic)
		s.correlator.resolveSubscribe(topic, &SubscriptionError{Topic: topic, Err: err})
		if errors.Is(err, ErrConnectionLost) {
			s.markFaulted(err)
		}
	}

	_, err := await(s, ctx, pending)
	return err
}

// Unsubscribe removes the subscription for topic. The registry entry is
// removed even when the engine reports an error or stalls past the session
// timeout, unless the connection was lost. The broker's acknowledgement is
// not awaited.
func (s *Session) Unsubscribe(ctx context.Context, topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}

	start := time.Now()
	err := s.unsubscribe(ctx, topic)
	s.observer.OperationCompleted(OpUnsubscribe, topic, time.Since(start), err)
	return err
}

func (s *Session) unsubscribe(ctx context.Context, topic string) error {
	ctx, cancel := s.withTimeout(ctx, fmt.Sprintf("%s %s", OpUnsubscribe, topic))
	defer cancel()

	if err := s.ensureConnected(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.engine.Unsubscribe(topic)
	}()

	select {
	case err := <-done:
		if err != nil {
			if errors.Is(err, ErrConnectionLost) {
				s.markFaulted(err)
				return fmt.Errorf("unsubscribe %s: %w", topic, err)
			}
			s.logger.Warn("MQTT unsubscribe error", "topic", topic, "error", err)
		}
		s.registry.remove(topic)
		return nil
	case <-ctx.Done():
		s.registry.remove(topic)
		return s.expired(ctx)
	}
}

func (s *Session) handleSubscribed(topic string) {
	s.registry.grant(topic)
	if !s.correlator.resolveSubscribe(topic, nil) {
		s.logger.Debug("MQTT unmatched subscribe acknowledgement", "topic", topic)
	}
}

// handleSubscribeFailed rolls the registry back before failing the waiting
// caller, so the caller never observes a refused subscription.
func (s *Session) handleSubscribeFailed(topic string, err error) {
	s.registry.rollback(topic)
	s.correlator.resolveSubscribe(topic, &SubscriptionError{Topic: topic, Err: err})
	s.logger.Warn("MQTT subscription refused", "topic", topic, "error", err)
}

func (s *Session) handleUnsubscribed(topic string, err error) {
	if err != nil {
		s.logger.Warn("MQTT unsubscribe not acknowledged", "topic", topic, "error", err)
		return
	}
	s.logger.Debug("MQTT unsubscribe acknowledged", "topic", topic)
}
