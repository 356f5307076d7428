// Package search implements the feasible-only search strategies: guided
// random sampling, scan-seeded pattern search and feasibility boundary
// tracing.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/mechanism"
	"github.com/snow-ghost/feasopt/pkg/logging"
	"github.com/snow-ghost/feasopt/pkg/metrics"
	"github.com/snow-ghost/feasopt/pkg/tracing"
	"github.com/snow-ghost/feasopt/scenario"
	"github.com/snow-ghost/feasopt/surrogate"
)

// Engine runs one configured search against an evaluator adapter.
type Engine struct {
	Config   *config.Run
	Adapter  *evaluator.Adapter
	Scenario *scenario.Evaluator
	Observer Observer
	Logger   *logging.Logger
	Metrics  *metrics.PrometheusMetrics
	Tracer   *tracing.Tracer
	RunID    string
}

// Result is everything a run produced.
type Result struct {
	Strategy config.Strategy
	Records  []*core.Record
	Feasible int
	// Best is nil for boundary strategies, which report frontiers instead.
	Best     *core.Record
	BestNote string
	Failures map[string]int
	Trace    *mechanism.Trace
	Frontier []*core.Record
	Islands  []IslandFrontier
	// Models holds the random phase's surrogate models, if one ran.
	Models  *surrogate.Models
	Elapsed time.Duration
}

// FeasibleYield is the fraction of evaluations that were candidates.
func (r *Result) FeasibleYield() float64 {
	return float64(r.Feasible) / float64(max(1, len(r.Records)))
}

func (e *Engine) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}

// Run executes the configured strategy. The returned result is always
// usable; on cancellation it holds the partial run alongside the error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	cfg := e.Config
	if cfg == nil || e.Adapter == nil {
		return nil, fmt.Errorf("engine requires a config and an adapter")
	}
	tracer := e.Tracer
	if tracer == nil {
		tracer = tracing.Noop()
	}
	ctx, span := tracer.StartRunSpan(ctx, e.RunID, string(cfg.Strategy), cfg.N)
	defer span.End()

	started := time.Now()
	s := newState(e.Adapter, core.NewComparator(cfg.Contract()), cfg.N)
	s.observer = e.Observer
	s.logger = e.logger()
	s.metrics = e.Metrics
	if cfg.ScenarioEnabled() {
		s.scenario = e.Scenario
		if s.scenario == nil {
			s.scenario = scenario.New(e.Adapter, cfg.ScenarioFactors, cfg.ScenarioMax)
		}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	res := &Result{Strategy: cfg.Strategy}
	e.logger().Info("search started",
		"strategy", cfg.Strategy,
		"n", cfg.N,
		"seed", cfg.Seed,
		"objective", cfg.Objective,
		"direction", cfg.ObjectiveDirection,
		"policy", cfg.Policy,
		"bounds", cfg.Bounds.Names(),
		"trace_id", tracing.GetTraceID(ctx),
	)

	var err error
	switch cfg.Strategy {
	case config.BoundaryTrace:
		s.trackBest = false
		var seed core.Point
		if len(cfg.Seeds) > 0 {
			seed = cfg.Seeds[0].Inputs
		}
		res.Frontier, err = e.trace(ctx, s, seed, "", cfg.BoundarySteps)
		res.BestNote = "boundary_trace produces frontier_points.csv"
	case config.BoundaryTraceMulti:
		s.trackBest = false
		res.Islands, err = e.traceMulti(ctx, s)
		for _, isl := range res.Islands {
			res.Frontier = append(res.Frontier, isl.Frontier...)
		}
		res.BestNote = "boundary_trace_multi produces frontiers/*.csv"
	case config.ScanSeededPattern:
		res.Models, err = e.scanSeeded(ctx, s, rng)
	default:
		res.Models, err = e.random(ctx, s, rng, cfg.N)
	}
	if errors.Is(err, ErrBudget) {
		err = nil
	}
	if err != nil {
		tracing.RecordSpanError(span, err)
	}

	res.Records = s.records
	res.Feasible = s.feasible
	res.Best = s.best
	res.Failures = s.failures
	res.Trace = s.trace
	res.Elapsed = time.Since(started)
	e.Metrics.SetFrontierSize(len(res.Frontier))
	e.logger().LogRunCompleted(e.RunID, len(res.Records), res.Feasible, res.Elapsed)
	return res, err
}

// scanSeeded runs pattern search per seed, then a random phase with the
// remaining budget.
func (e *Engine) scanSeeded(ctx context.Context, s *state, rng *rand.Rand) (*surrogate.Models, error) {
	cfg := e.Config
	var models *surrogate.Models
	for _, a := range allocate(cfg.N, cfg.Seeds, cfg.MultiIsland) {
		if a.budget <= 0 || s.spent() {
			continue
		}
		var err error
		switch a.phase {
		case PhaseSeedPattern:
			err = e.pattern(ctx, s, cfg.Seeds[a.seedIndex], a.seedIndex, a.island, a.budget)
		default:
			models, err = e.random(ctx, s, rng, a.budget)
		}
		if err != nil && !errors.Is(err, ErrBudget) {
			return models, err
		}
	}
	return models, nil
}
