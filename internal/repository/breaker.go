package repository

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// NewRegistryBreaker builds a circuit breaker for one upstream registry. A
// registry that starts failing mid-run trips the breaker so the run aborts
// quickly instead of grinding through thousands of doomed chunk queries.
func NewRegistryBreaker(name string, timeout time.Duration, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"registry": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("Registry circuit breaker state changed")
		},
	})
}
