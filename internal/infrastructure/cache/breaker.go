package cache

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls when the cache circuit opens
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold" validate:"gte=0,lte=100"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// DefaultBreakerConfig trips after three straight failures or a 50% error rate
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         2,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50.0,
		ConsecutiveFailures: 3,
	}
}

// NewBreaker builds a named circuit breaker that logs its state changes
func NewBreaker(name string, config BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   tripCondition(config),
		OnStateChange: logStateChange,
	})
}

func tripCondition(config BreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests >= 10 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= config.ErrorRateThreshold {
				return true
			}
		}

		return config.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= config.ConsecutiveFailures
	}
}

func logStateChange(name string, from, to gobreaker.State) {
	event := log.Info()
	if to == gobreaker.StateOpen {
		event = log.Warn()
	}
	event.Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")
}
