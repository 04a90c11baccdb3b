package session

import "time"

// Operation names a public session operation in telemetry callbacks.
type Operation string

const (
	OpConnect     Operation = "connect"
	OpPublish     Operation = "publish"
	OpSubscribe   Operation = "subscribe"
	OpUnsubscribe Operation = "unsubscribe"
)

// Observer receives session telemetry. Implementations must not block and
// must not call back into the session; StateChanged runs while the session
// lock is held.
type Observer interface {
	StateChanged(from, to ConnectionState)
	OperationCompleted(op Operation, topic string, elapsed time.Duration, err error)
	TimedOut(op string)
}

type noopObserver struct{}

func (noopObserver) StateChanged(ConnectionState, ConnectionState)              {}
func (noopObserver) OperationCompleted(Operation, string, time.Duration, error) {}
func (noopObserver) TimedOut(string)                                            {}

// Logger is the logging interface used by the session.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
