package tier

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/lazypower/foresight/internal/logging"
	"github.com/lazypower/foresight/internal/metrics"
	"github.com/lazypower/foresight/internal/models"
)

// breaker isolates a non-authoritative tier. Once it opens, calls fail fast
// with gobreaker.ErrOpenState until the cool-down elapses, so a dead cache
// costs nothing on the read path.
type breaker struct {
	tier models.Tier
	cb   *gobreaker.CircuitBreaker[any]
}

func newBreaker(t models.Tier, consecutiveFailures uint32, coolDown time.Duration) *breaker {
	name := string(t)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     coolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("tier", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &breaker{tier: t, cb: cb}
}

// call runs fn through b. A nil breaker runs fn directly.
func call[T any](b *breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if res == nil {
		var zero T
		return zero, nil
	}
	return res.(T), nil
}

func (b *breaker) state() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
