package session

import "github.com/sony/gobreaker"

// newReconnectBreaker builds the circuit breaker that suspends reconnects
// after cfg.FailureThreshold consecutive failures.
func newReconnectBreaker(name string, cfg BreakerConfig, logger Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("MQTT reconnect breaker state changed",
				"client_id", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}
