package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/pkg/logging"
	"github.com/snow-ghost/feasopt/pkg/metrics"
)

// GuardConfig holds circuit breaker and throttle settings. Zero values
// disable the corresponding protection.
type GuardConfig struct {
	Name        string `json:"name" yaml:"name"`
	MaxFailures uint32 `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	// CooldownCalls is how many calls an open breaker rejects before it
	// lets one trial call through.
	CooldownCalls int     `json:"cooldown_calls" yaml:"cooldown_calls"`
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `json:"burst" yaml:"burst"`
}

// DefaultGuardConfig returns a guard that trips after five consecutive errors
// and retries after twenty rejected calls.
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:          name,
		MaxFailures:   5,
		CooldownCalls: 20,
	}
}

// breakerHold keeps gobreaker from leaving the open state on its own; the
// guard reopens it after CooldownCalls rejections instead.
const breakerHold = 100 * 365 * 24 * time.Hour

// Guard protects the evaluator from being hammered while it is failing.
// Breaker state depends only on the sequence of call results, never on
// elapsed time.
type Guard struct {
	cfg      GuardConfig
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	rejected int
}

// NewGuard builds a guard. State changes are logged and counted.
func NewGuard(cfg GuardConfig, logger *logging.Logger, m *metrics.PrometheusMetrics) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Guard{cfg: cfg, logger: logger, metrics: m}
	if cfg.MaxFailures > 0 {
		g.breaker = g.newBreaker(false)
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g
}

// newBreaker returns a closed breaker. A trial breaker stands in for the
// half-open state: it trips again on its first failure until one call
// succeeds.
func (g *Guard) newBreaker(trial bool) *gobreaker.CircuitBreaker {
	maxFailures := g.cfg.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    g.cfg.Name,
		Timeout: breakerHold,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if trial && counts.TotalSuccesses == 0 {
				return true
			}
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			fromName := from.String()
			if trial && from == gobreaker.StateClosed {
				fromName = "half-open"
			}
			g.transition(fromName, to.String())
		},
	})
}

func (g *Guard) transition(from, to string) {
	g.logger.LogCircuitBreaker(g.cfg.Name, from, to)
	g.metrics.RecordCircuitTransition(to)
}

// Do runs fn behind the throttle and the breaker.
func (g *Guard) Do(ctx context.Context, fn func() (core.Outcome, error)) (core.Outcome, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return core.Outcome{}, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}
	if g.breaker == nil {
		return fn()
	}
	trial := false
	if g.breaker.State() == gobreaker.StateOpen {
		if g.rejected < g.cfg.CooldownCalls {
			g.rejected++
			return core.Outcome{}, fmt.Errorf("circuit breaker execution failed: %w", gobreaker.ErrOpenState)
		}
		g.rejected = 0
		g.breaker = g.newBreaker(true)
		g.transition("open", "half-open")
		trial = true
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return core.Outcome{}, fmt.Errorf("circuit breaker execution failed: %w", err)
	}
	if trial {
		g.transition("half-open", "closed")
	}
	return res.(core.Outcome), nil
}

// State returns the breaker state name, "disabled" without a breaker.
func (g *Guard) State() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}
