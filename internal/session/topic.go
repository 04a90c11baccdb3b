package session

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on a UTF-8 encoded topic.
const maxTopicLength = 65535

// validateTopic checks a topic used for publishing, subscribing or
// unsubscribing. Wildcards are rejected everywhere because inbound messages
// are routed to handlers by exact topic.
func validateTopic(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: topic longer than %d bytes", ErrInvalidTopic, maxTopicLength)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: NUL in topic", ErrInvalidTopic)
	case strings.ContainsAny(topic, "+#"):
		return fmt.Errorf("%w: wildcard in topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
