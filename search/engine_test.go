package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/testkit"
)

const sumConfig = `
n: 50
seed: 0
objective: objective
objective_direction: max
policy: strict_pass
strategy: random
bounds:
  x: [0, 10]
  y: [0, 10]
`

func mustConfig(t *testing.T, doc string) *config.Run {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func newEngine(cfg *config.Run, eval core.Evaluator) *Engine {
	adapter := evaluator.New(eval, cfg.Policy, cfg.Objective,
		evaluator.WithFixed(cfg.Fixed),
		evaluator.WithCaps(cfg.Caps),
	)
	return &Engine{Config: cfg, Adapter: adapter}
}

func run(t *testing.T, doc string, eval core.Evaluator) *Result {
	t.Helper()
	res, err := newEngine(mustConfig(t, doc), eval).Run(context.Background())
	require.NoError(t, err)
	return res
}

func recordsJSON(t *testing.T, res *Result) string {
	t.Helper()
	raw, err := json.Marshal(res.Records)
	require.NoError(t, err)
	return string(raw)
}

func TestRandomSumExample(t *testing.T) {
	res := run(t, sumConfig, testkit.NewSum())

	require.Len(t, res.Records, 50)
	require.NotNil(t, res.Best)
	assert.LessOrEqual(t, res.Best.Objective, 12.0)
	assert.True(t, res.Best.Candidate)

	again := run(t, sumConfig, testkit.NewSum())
	assert.Equal(t, recordsJSON(t, res), recordsJSON(t, again))
	a, err := json.Marshal(res.Best)
	require.NoError(t, err)
	b, err := json.Marshal(again.Best)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRandomSeedChangesTheRun(t *testing.T) {
	a := run(t, sumConfig, testkit.NewSum())
	b := run(t, strings.Replace(sumConfig, "seed: 0", "seed: 1", 1), testkit.NewSum())
	assert.NotEqual(t, recordsJSON(t, a), recordsJSON(t, b))
}

func TestFeasibilityInvariant(t *testing.T) {
	res := run(t, sumConfig, testkit.NewSum())
	for _, r := range res.Records {
		sum := r.Inputs["x"] + r.Inputs["y"]
		if r.Candidate {
			assert.LessOrEqual(t, sum, 12.0, "record %d", r.Index)
			assert.GreaterOrEqual(t, r.WorstHardMargin, 0.0)
		} else {
			assert.Greater(t, sum, 12.0, "record %d", r.Index)
			assert.Equal(t, "sum_cap", r.DominantConstraint)
		}
	}
	assert.Equal(t, len(res.Records)-res.Feasible, res.Failures["sum_cap"])
}

func TestBestIsNeverDegraded(t *testing.T) {
	cfg := mustConfig(t, sumConfig)
	res, err := newEngine(cfg, testkit.NewSum()).Run(context.Background())
	require.NoError(t, err)

	cmp := core.NewComparator(cfg.Contract())
	var best *core.Record
	for _, r := range res.Records {
		if !r.Candidate {
			continue
		}
		if best == nil || cmp.Better(r, best) {
			best = r
		}
	}
	assert.Same(t, best, res.Best)
	for _, r := range res.Records {
		if r.Candidate {
			assert.False(t, cmp.Better(r, res.Best))
		}
	}
}

func TestObserverSeesEveryEvaluation(t *testing.T) {
	cfg := mustConfig(t, sumConfig)
	e := newEngine(cfg, testkit.NewSum())
	var seen []Progress
	e.Observer = ObserverFunc(func(rec *core.Record, p Progress) error {
		assert.Equal(t, p.I-1, rec.Index)
		seen = append(seen, p)
		return nil
	})
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 50)
	for i, p := range seen {
		assert.Equal(t, i+1, p.I)
		assert.Equal(t, 50, p.N)
		assert.Equal(t, PhaseRandom, p.Phase)
	}
	assert.Equal(t, res.Feasible, seen[49].NFeasible)
}

func TestEvaluationErrorsDoNotStopTheRun(t *testing.T) {
	faulty := &testkit.Faulty{
		Inner: testkit.NewSum(),
		Fails: func(p core.Point) bool { return p["x"] > 8 },
		Panic: true,
	}
	res := run(t, sumConfig+"surrogate_guidance: false\n", faulty)

	require.Len(t, res.Records, 50)
	errs := 0
	for _, r := range res.Records {
		if r.Inputs["x"] > 8 {
			errs++
			assert.False(t, r.OK)
			assert.False(t, r.Candidate)
			assert.Equal(t, core.EvaluationError, r.DominantConstraint)
			assert.Contains(t, r.Error, "panic")
		}
	}
	require.Positive(t, errs)
	assert.Equal(t, errs, res.Failures[core.EvaluationError])
}

func TestHybridGuidanceIsDeterministic(t *testing.T) {
	doc := `
n: 120
seed: 3
strategy: random
hybrid_guidance: true
mech_min_pos: 5
mech_min_neg: 5
mech_batch: 16
mechanism_switch_mode: seek
bounds:
  Ip_MA: [5, 20]
  Bt_T: [3, 8]
  R0_m: [4, 9]
  kappa: [1.5, 2.2]
  f_rad: [0.2, 0.9]
  blanket_m: [0.5, 1.5]
`
	a := run(t, doc, testkit.NewReactor())
	b := run(t, doc, testkit.NewReactor())
	require.Len(t, a.Records, 120)
	assert.Equal(t, recordsJSON(t, a), recordsJSON(t, b))

	require.NotNil(t, a.Models)
	assert.Equal(t, a.Trace.Len(), len(a.Records))
	evaluated := 0
	for _, n := range a.Models.Stats.Evaluated {
		evaluated += n
	}
	assert.Equal(t, 120, evaluated)
}

const reactorGuidanceConfig = `
n: 300
seed: 3
strategy: random
mechanism_classifier: true
mech_min_pos: 5
mech_min_neg: 5
bounds:
  Ip_MA: [5, 20]
  Bt_T: [3, 8]
  R0_m: [4, 9]
  kappa: [1.5, 2.2]
  f_rad: [0.2, 0.9]
  blanket_m: [0.5, 1.5]
`

func TestSurrogateGuidanceBeatsUniformSampling(t *testing.T) {
	guided := run(t, reactorGuidanceConfig+"surrogate_guidance: true\n", testkit.NewReactor())
	uniform := run(t, reactorGuidanceConfig+"surrogate_guidance: false\n", testkit.NewReactor())

	require.NotNil(t, guided.Models)
	scored := 0
	for _, n := range guided.Models.Stats.Scored {
		scored += n
	}
	assert.Positive(t, scored, "surrogate batches must score candidates")

	require.NotNil(t, uniform.Models)
	scored = 0
	for _, n := range uniform.Models.Stats.Scored {
		scored += n
	}
	assert.Zero(t, scored)
	assert.Greater(t, guided.Feasible, uniform.Feasible)
}

// flakyAbove fails every point with x < 6 and otherwise behaves like Sum.
func flakyAbove() core.Evaluator {
	sum := testkit.NewSum()
	return core.EvaluatorFunc(func(ctx context.Context, p core.Point) (core.Outcome, error) {
		if p["x"] < 6 {
			return core.Outcome{}, errors.New("solver diverged")
		}
		return sum.Evaluate(ctx, p)
	})
}

func TestGuardedRunIsIndependentOfTiming(t *testing.T) {
	guarded := func(observer Observer) *Result {
		cfg := mustConfig(t, sumConfig)
		guard := evaluator.NewGuard(evaluator.GuardConfig{Name: "evaluator", MaxFailures: 2, CooldownCalls: 3}, nil, nil)
		adapter := evaluator.New(flakyAbove(), cfg.Policy, cfg.Objective, evaluator.WithGuard(guard))
		res, err := (&Engine{Config: cfg, Adapter: adapter, Observer: observer}).Run(context.Background())
		require.NoError(t, err)
		return res
	}

	fast := guarded(nil)
	slow := guarded(ObserverFunc(func(*core.Record, Progress) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}))
	assert.Equal(t, recordsJSON(t, fast), recordsJSON(t, slow))

	rejected := 0
	for _, r := range fast.Records {
		if strings.Contains(r.Error, "circuit breaker") {
			rejected++
		}
	}
	assert.Positive(t, rejected, "the breaker must engage for the run to be meaningful")
}

func TestScenarioMetricsOnCandidatesOnly(t *testing.T) {
	doc := sumConfig + `
scenario_robustness: true
scenario_max: 4
scenario_factors:
  x: [0.9, 1.1]
  y: [0.9, 1.1]
`
	cfg := mustConfig(t, doc)
	sum := testkit.NewSum()
	res, err := newEngine(cfg, sum).Run(context.Background())
	require.NoError(t, err)

	withScenario := 0
	for _, r := range res.Records {
		if r.Candidate {
			require.NotNil(t, r.Scenario, "record %d", r.Index)
			assert.Equal(t, 4, r.Scenario.N)
			withScenario++
		} else {
			assert.Nil(t, r.Scenario)
		}
	}
	assert.Equal(t, 50+4*withScenario, sum.Calls())
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := mustConfig(t, sumConfig)
	e := newEngine(cfg, testkit.NewSum())
	e.Observer = ObserverFunc(func(rec *core.Record, _ Progress) error {
		if rec.Index == 9 {
			cancel()
		}
		return nil
	})
	res, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Len(t, res.Records, 10)
}
