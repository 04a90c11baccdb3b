package influxdb

import (
	"errors"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-session/internal/session"
)

// Measurements written by SessionObserver.
const (
	MeasurementState     = "mqtt_session_state"
	MeasurementOperation = "mqtt_session_operation"
	MeasurementTimeout   = "mqtt_session_timeout"
)

// Operation outcomes recorded in the "outcome" tag.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// SessionObserver records session telemetry as InfluxDB points.
// Topics are written as fields to keep tag cardinality low.
type SessionObserver struct {
	client   *Client
	clientID string
}

var _ session.Observer = (*SessionObserver)(nil)

// SessionObserver returns an observer tagging every point with clientID.
func (c *Client) SessionObserver(clientID string) *SessionObserver {
	return &SessionObserver{client: c, clientID: clientID}
}

// StateChanged records a connection state transition.
func (o *SessionObserver) StateChanged(from, to session.ConnectionState) {
	o.client.WritePoint(MeasurementState,
		map[string]string{
			"client_id": o.clientID,
			"from":      from.String(),
			"to":        to.String(),
		},
		map[string]interface{}{
			"state": int64(to),
		},
	)
}

// OperationCompleted records the latency and outcome of a session call.
func (o *SessionObserver) OperationCompleted(op session.Operation, topic string, elapsed time.Duration, err error) {
	fields := map[string]interface{}{
		"elapsed_ms": float64(elapsed) / float64(time.Millisecond),
	}
	if topic != "" {
		fields["topic"] = topic
	}

	o.client.WritePoint(MeasurementOperation,
		map[string]string{
			"client_id": o.clientID,
			"op":        string(op),
			"outcome":   outcome(err),
		},
		fields,
	)
}

// TimedOut records an expired operation. op is "<operation> <topic>" for
// topic-scoped calls.
func (o *SessionObserver) TimedOut(op string) {
	name, topic, _ := strings.Cut(op, " ")

	fields := map[string]interface{}{"count": int64(1)}
	if topic != "" {
		fields["topic"] = topic
	}

	o.client.WritePoint(MeasurementTimeout,
		map[string]string{
			"client_id": o.clientID,
			"op":        name,
		},
		fields,
	)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, session.ErrTimeout):
		return outcomeTimeout
	default:
		return outcomeError
	}
}
