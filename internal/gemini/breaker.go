package gemini

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/edgard/intake/internal/config"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = time.Minute
)

// ErrCircuitOpen is returned while the breaker rejects calls after repeated
// Gemini failures.
var ErrCircuitOpen = gobreaker.ErrOpenState

// newBreaker trips after BreakerFailures consecutive failed extractions and
// lets one probe through once BreakerCooldown has passed. Cancelled calls
// do not count against the backend.
func newBreaker(cfg config.GeminiConfig, log *slog.Logger) *gobreaker.CircuitBreaker {
	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = defaultBreakerFailures
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}
