package session

// ConnectionState is the lifecycle state of the session's connection.
type ConnectionState int

// Connection states. The zero value is StateDisconnected.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFaulted
)

// String returns the lowercase state name used in logs and telemetry.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
