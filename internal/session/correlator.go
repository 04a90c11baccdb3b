package session

import "sync"

// publishKeySeparator joins topic and body into a publish key. MQTT topics
// cannot contain NUL, so keys never collide across different topics.
const publishKeySeparator = "\x00"

func publishKey(topic, body string) string {
	return topic + publishKeySeparator + body
}

// correlator matches engine acknowledgements to waiting callers.
//
// Publishes are keyed by (topic, body) so identical concurrent publishes
// share one handle; subscribes are keyed by topic. An entry is removed when
// it resolves. Entries whose callers timed out stay until a matching event
// arrives, and a later identical request reuses them.
type correlator struct {
	mu         sync.Mutex
	publishes  map[string]*future[Message]
	subscribes map[string]*future[struct{}]
}

func newCorrelator() *correlator {
	return &correlator{
		publishes:  make(map[string]*future[Message]),
		subscribes: make(map[string]*future[struct{}]),
	}
}

// pendingPublish returns the handle for (topic, body), creating it if absent.
func (c *correlator) pendingPublish(topic, body string) *future[Message] {
	key := publishKey(topic, body)

	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.publishes[key]; ok {
		return f
	}
	f := newFuture[Message]()
	c.publishes[key] = f
	return f
}

// resolvePublish completes the pending publish matching msg.
// It reports false for an unmatched acknowledgement.
func (c *correlator) resolvePublish(msg Message) bool {
	key := publishKey(msg.Topic, msg.Body)

	c.mu.Lock()
	f, ok := c.publishes[key]
	if ok {
		delete(c.publishes, key)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	return f.resolve(msg, nil)
}

// pendingSubscribe returns the handle for topic, creating it if absent.
func (c *correlator) pendingSubscribe(topic string) *future[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.subscribes[topic]; ok {
		return f
	}
	f := newFuture[struct{}]()
	c.subscribes[topic] = f
	return f
}

// resolveSubscribe completes the pending subscribe for topic with err
// (nil for success). It reports false when nothing was pending.
func (c *correlator) resolveSubscribe(topic string, err error) bool {
	c.mu.Lock()
	f, ok := c.subscribes[topic]
	if ok {
		delete(c.subscribes, topic)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	return f.resolve(struct{}{}, err)
}

// pending returns the number of outstanding publishes and subscribes.
func (c *correlator) pending() (publishes, subscribes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.publishes), len(c.subscribes)
}
