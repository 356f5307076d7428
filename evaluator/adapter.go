// Package evaluator turns proposed parameter points into normalized
// observations by calling a black-box evaluator exactly once per point.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/pkg/metrics"
	"github.com/snow-ghost/feasopt/pkg/tracing"
)

// Observation is the normalized result of one evaluation.
type Observation struct {
	Point              core.Point
	OK                 bool
	Err                string
	Candidate          bool
	Objective          float64
	WorstHardMargin    float64
	DominantConstraint string
	DominantMechanism  string
	DominantInputs     []core.Sensitivity
	Constraints        []core.Constraint
	NConstraints       int
	NHardFailed        int
	Cached             bool
}

// Adapter wraps an evaluator with the fixed/caps overlay and the
// feasibility policy.
type Adapter struct {
	eval      core.Evaluator
	deriver   core.ConstraintDeriver
	policy    core.PolicyMode
	objective string
	fixed     core.Point
	caps      core.Point
	cache     *Cache
	guard     *Guard
	tracer    *tracing.Tracer
	metrics   *metrics.PrometheusMetrics
	phase     string
	calls     int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithFixed sets values applied over every proposed point.
func WithFixed(p core.Point) Option { return func(a *Adapter) { a.fixed = p.Clone() } }

// WithCaps sets values applied after fixed.
func WithCaps(p core.Point) Option { return func(a *Adapter) { a.caps = p.Clone() } }

// WithDeriver derives constraints from evaluator outputs instead of using
// the constraints the evaluator reports.
func WithDeriver(d core.ConstraintDeriver) Option { return func(a *Adapter) { a.deriver = d } }

// WithCache memoizes outcomes.
func WithCache(c *Cache) Option { return func(a *Adapter) { a.cache = c } }

// WithGuard routes calls through a breaker and throttle.
func WithGuard(g *Guard) Option { return func(a *Adapter) { a.guard = g } }

// WithTracer opens a span per evaluation.
func WithTracer(t *tracing.Tracer) Option { return func(a *Adapter) { a.tracer = t } }

// WithMetrics records evaluation counters.
func WithMetrics(m *metrics.PrometheusMetrics) Option { return func(a *Adapter) { a.metrics = m } }

// New creates an adapter reading objective from the evaluator outputs.
func New(eval core.Evaluator, policy core.PolicyMode, objective string, opts ...Option) *Adapter {
	a := &Adapter{
		eval:      eval,
		policy:    policy,
		objective: objective,
		tracer:    tracing.Noop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetPhase labels subsequent calls in metrics.
func (a *Adapter) SetPhase(phase string) { a.phase = phase }

// Calls is the number of Evaluate calls so far, cache hits included.
func (a *Adapter) Calls() int { return a.calls }

// CacheStats reports cache counters, zero without a cache.
func (a *Adapter) CacheStats() CacheStats {
	if a.cache == nil {
		return CacheStats{}
	}
	return a.cache.Stats()
}

// Materialize overlays fixed then caps on proposed.
func (a *Adapter) Materialize(proposed core.Point) core.Point {
	return core.Merge(proposed, a.fixed, a.caps)
}

// Evaluate materializes proposed, calls the evaluator once and normalizes the
// result. Evaluator errors, panics and ok=false outcomes become rejected
// observations labelled EVALUATION_ERROR; Evaluate itself never fails.
func (a *Adapter) Evaluate(ctx context.Context, proposed core.Point) Observation {
	return a.EvaluateExact(ctx, a.Materialize(proposed))
}

// EvaluateExact evaluates point as given, without the fixed/caps overlay.
// Scenario corners use it to perturb fixed inputs too.
func (a *Adapter) EvaluateExact(ctx context.Context, point core.Point) Observation {
	start := time.Now()
	a.calls++

	ctx, span := a.tracer.StartEvaluationSpan(ctx, len(point))
	defer span.End()

	out, cached, err := a.outcome(ctx, a.filter(point))
	var obs Observation
	switch {
	case err != nil:
		tracing.RecordSpanError(span, err)
		obs = failed(point, err.Error())
	case !out.OK:
		msg := out.Message
		if msg == "" {
			msg = "evaluator returned ok=false"
		}
		obs = failed(point, msg)
	default:
		obs = a.normalize(point, out)
	}
	obs.Cached = cached
	tracing.RecordSpanVerdict(span, obs.Candidate, obs.DominantConstraint, cached)
	a.metrics.RecordEvaluation(a.phase, verdict(obs), time.Since(start))
	return obs
}

// filter drops keys the evaluator does not accept. An empty field list
// accepts everything.
func (a *Adapter) filter(p core.Point) core.Point {
	schema, ok := a.eval.(core.Schema)
	if !ok {
		return p
	}
	fields := schema.Fields()
	if len(fields) == 0 {
		return p
	}
	out := make(core.Point, len(fields))
	for _, k := range fields {
		if v, ok := p[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (a *Adapter) outcome(ctx context.Context, p core.Point) (core.Outcome, bool, error) {
	var key string
	if a.cache != nil {
		key = p.Key()
		if out, ok := a.cache.Get(key); ok {
			a.metrics.RecordCacheHit()
			return out, true, nil
		}
		a.metrics.RecordCacheMiss()
	}

	call := func() (core.Outcome, error) { return safeCall(ctx, a.eval, p.Clone()) }
	var (
		out core.Outcome
		err error
	)
	if a.guard != nil {
		out, err = a.guard.Do(ctx, call)
	} else {
		out, err = call()
	}
	if err == nil && a.cache != nil {
		a.cache.Set(key, out)
	}
	return out, false, err
}

// safeCall converts evaluator panics into errors.
func safeCall(ctx context.Context, eval core.Evaluator, p core.Point) (out core.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return eval.Evaluate(ctx, p)
}

func (a *Adapter) normalize(point core.Point, out core.Outcome) Observation {
	cs := out.Constraints
	if a.deriver != nil {
		cs = a.deriver.Derive(out.Out)
	}
	objective, ok := out.Out[a.objective]
	if !ok {
		objective = math.NaN()
	}
	return Observation{
		Point:              point,
		OK:                 true,
		Candidate:          core.IsCandidate(a.policy, cs),
		Objective:          objective,
		WorstHardMargin:    core.WorstHardMargin(cs),
		DominantConstraint: core.DominantConstraint(cs),
		DominantMechanism:  core.DominantMechanism(cs),
		DominantInputs:     out.DominantInputs,
		Constraints:        cs,
		NConstraints:       len(cs),
		NHardFailed:        core.HardFailures(cs),
	}
}

func failed(point core.Point, msg string) Observation {
	return Observation{
		Point:              point,
		Err:                msg,
		Objective:          math.NaN(),
		WorstHardMargin:    math.NaN(),
		DominantConstraint: core.EvaluationError,
		DominantMechanism:  core.GeneralGroup,
	}
}

func verdict(o Observation) string {
	switch {
	case o.Candidate:
		return "PASS"
	case !o.OK:
		return "ERROR"
	default:
		return "FAIL"
	}
}
