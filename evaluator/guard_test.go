package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/pkg/metrics"
)

func TestGuardTripsAfterConsecutiveFailures(t *testing.T) {
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	cfg := DefaultGuardConfig("evaluator")
	cfg.MaxFailures = 2
	cfg.CooldownCalls = 100
	g := NewGuard(cfg, nil, m)

	calls := 0
	fail := func() (core.Outcome, error) {
		calls++
		return core.Outcome{}, errors.New("down")
	}
	for i := 0; i < 2; i++ {
		_, err := g.Do(context.Background(), fail)
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Do(context.Background(), fail)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls, "open breaker fails fast")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitTransitionsTotal.WithLabelValues("open")))
}

func TestGuardTripsAdapterIntoEvaluationErrors(t *testing.T) {
	cfg := DefaultGuardConfig("evaluator")
	cfg.MaxFailures = 1
	ev := core.EvaluatorFunc(func(context.Context, core.Point) (core.Outcome, error) {
		return core.Outcome{}, errors.New("down")
	})
	a := New(ev, core.StrictPass, "sum", WithGuard(NewGuard(cfg, nil, nil)))

	a.Evaluate(context.Background(), core.Point{"x": 1})
	obs := a.Evaluate(context.Background(), core.Point{"x": 2})
	assert.Equal(t, core.EvaluationError, obs.DominantConstraint)
	assert.Contains(t, obs.Err, "circuit breaker")
}

func TestGuardCooldownCountsCalls(t *testing.T) {
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	g := NewGuard(GuardConfig{Name: "evaluator", MaxFailures: 2, CooldownCalls: 3}, nil, m)

	calls := 0
	healthy := false
	fn := func() (core.Outcome, error) {
		calls++
		if !healthy {
			return core.Outcome{}, errors.New("down")
		}
		return core.Outcome{OK: true}, nil
	}
	do := func() error {
		_, err := g.Do(context.Background(), fn)
		return err
	}

	require.Error(t, do())
	require.Error(t, do())
	require.Equal(t, "open", g.State())
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, do(), gobreaker.ErrOpenState)
	}
	assert.Equal(t, 2, calls)

	// The trial call fails, so the breaker reopens at once.
	require.Error(t, do())
	assert.Equal(t, 3, calls)
	assert.Equal(t, "open", g.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, do(), gobreaker.ErrOpenState)
	}
	healthy = true
	require.NoError(t, do())
	assert.Equal(t, 4, calls)
	assert.Equal(t, "closed", g.State())

	// Back to the normal threshold after a successful trial call.
	healthy = false
	require.Error(t, do())
	assert.Equal(t, "closed", g.State())
	require.Error(t, do())
	assert.Equal(t, "open", g.State())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitTransitionsTotal.WithLabelValues("half-open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitTransitionsTotal.WithLabelValues("closed")))
}

func TestGuardRateLimitHonoursContext(t *testing.T) {
	g := NewGuard(GuardConfig{RatePerSecond: 0.001, Burst: 1}, nil, nil)
	ok := func() (core.Outcome, error) { return core.Outcome{OK: true}, nil }

	_, err := g.Do(context.Background(), ok)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Do(ctx, ok)
	assert.Error(t, err)
	assert.Equal(t, "disabled", g.State())
}
