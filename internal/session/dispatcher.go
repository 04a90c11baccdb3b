package session

import (
	"sort"
	"sync"
)

// Handler is invoked for each inbound message on a subscribed topic.
//
// Handlers run on the engine's delivery goroutine and should not block for
// extended periods. A returned error is logged and otherwise ignored.
type Handler func(topic, body string) error

// subscription holds what is needed to route messages for a topic and to
// re-subscribe after a reconnect.
type subscription struct {
	handler Handler
	qos     QoS

	// previous is the subscription this one replaced, kept until the
	// broker grants or refuses the replacement.
	previous *subscription
}

// registry maps subscribed topics to their handlers. Lookups are by exact
// topic string.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]subscription
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]subscription)}
}

func (r *registry) add(topic string, sub subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.handlers[topic]; ok {
		sub.previous = &old
	}
	r.handlers[topic] = sub
}

// grant drops the replaced subscription once topic is granted.
func (r *registry) grant(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.handlers[topic]; ok && sub.previous != nil {
		sub.previous = nil
		r.handlers[topic] = sub
	}
}

// rollback undoes the latest add for topic, reinstating the subscription
// it replaced or removing the topic when there was none.
func (r *registry) rollback(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.handlers[topic]
	switch {
	case !ok:
	case sub.previous != nil:
		r.handlers[topic] = *sub.previous
	default:
		delete(r.handlers, topic)
	}
}

func (r *registry) remove(topic string) {
	r.mu.Lock()
	delete(r.handlers, topic)
	r.mu.Unlock()
}

func (r *registry) lookup(topic string) (subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.handlers[topic]
	return sub, ok
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// snapshot returns a copy of the registry.
func (r *registry) snapshot() map[string]subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]subscription, len(r.handlers))
	for topic, sub := range r.handlers {
		out[topic] = sub
	}
	return out
}

// clear empties the registry and returns the topics it held, sorted.
func (r *registry) clear() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := sortedTopics(r.handlers)
	r.handlers = make(map[string]subscription)
	return topics
}

func sortedTopics(m map[string]subscription) []string {
	topics := make([]string, 0, len(m))
	for t := range m {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// dispatch routes each message of an inbound batch, in order, to the
// handler registered for its topic. Messages on unregistered topics are
// dropped.
func (s *Session) dispatch(batch []Inbound) {
	for _, in := range batch {
		sub, ok := s.registry.lookup(in.Topic)
		if !ok {
			s.logger.Debug("MQTT message dropped, no handler", "topic", in.Topic)
			continue
		}
		s.invoke(sub.handler, in.Topic, string(in.Payload))
	}
}

// invoke runs a handler with panic recovery and error logging.
func (s *Session) invoke(h Handler, topic, body string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	if err := h(topic, body); err != nil {
		s.logger.Warn("MQTT handler returned error",
			"topic", topic,
			"error", err,
		)
	}
}
