package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Publish sends body to topic and waits for the engine's acknowledgement.
//
// Identical (topic, body) publishes in flight at the same time share one
// acknowledgement: every caller is released by the first matching ack,
// although each call still issues its own engine publish.
//
// Parameters:
//   - ctx: Context for cancellation; the session timeout applies on top
//   - topic: Topic name, no wildcards
//   - body: Message body
//   - qos: Delivery guarantee
//
// Returns:
//   - Message: The acknowledged message
//   - error: *TimeoutError, ErrConnectionLost, or a reconnect error
func (s *Session) Publish(ctx context.Context, topic, body string, qos QoS) (Message, error) {
	if err := validateTopic(topic); err != nil {
		return Message{}, err
	}
	if err := qos.Validate(); err != nil {
		return Message{}, err
	}

	start := time.Now()
	msg, err := s.publish(ctx, topic, body, qos)
	s.observer.OperationCompleted(OpPublish, topic, time.Since(start), err)
	return msg, err
}

func (s *Session) publish(ctx context.Context, topic, body string, qos QoS) (Message, error) {
	ctx, cancel := s.withTimeout(ctx, fmt.Sprintf("%s %s", OpPublish, topic))
	defer cancel()

	if err := s.ensureConnected(ctx); err != nil {
		return Message{}, fmt.Errorf("publish %s: %w", topic, err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return Message{}, s.expired(ctx)
			}
			return Message{}, fmt.Errorf("publish %s: rate limit: %w", topic, err)
		}
	}

	pending := s.correlator.pendingPublish(topic, body)
	if err := s.engine.Publish(topic, qos, []byte(body)); err != nil {
		if errors.Is(err, ErrConnectionLost) {
			s.markFaulted(err)
			return Message{}, fmt.Errorf("publish %s: %w", topic, err)
		}
		s.logger.Warn("MQTT publish error, awaiting acknowledgement",
			"topic", topic,
			"error", err,
		)
	}

	return await(s, ctx, pending)
}

// handlePublished completes the callers waiting on an acknowledged publish.
func (s *Session) handlePublished(topic string, payload []byte) {
	if !s.correlator.resolvePublish(Message{Topic: topic, Body: string(payload)}) {
		s.logger.Debug("MQTT unmatched publish acknowledgement", "topic", topic)
	}
}
