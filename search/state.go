package search

import (
	"context"
	"errors"
	"sort"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/mechanism"
	"github.com/snow-ghost/feasopt/pkg/logging"
	"github.com/snow-ghost/feasopt/pkg/metrics"
	"github.com/snow-ghost/feasopt/scenario"
)

// ErrBudget is returned by capped evaluations once the run budget is spent.
var ErrBudget = errors.New("evaluation budget exhausted")

// Phase tags.
const (
	PhaseRandom        = "random"
	PhaseSeedPattern   = "seed_pattern"
	PhaseBoundaryStart = "boundary_start"
	PhaseBoundaryStep  = "boundary_step"
)

// Progress is the snapshot published after every evaluation.
type Progress struct {
	I            int    `json:"i"`
	N            int    `json:"n"`
	NFeasible    int    `json:"n_feasible"`
	LastVerdict  string `json:"last_verdict"`
	LastDominant string `json:"last_dominant"`
	Phase        string `json:"phase,omitempty"`
}

// Observer is notified after each committed record. Errors are logged and
// do not stop the run.
type Observer interface {
	Observe(rec *core.Record, p Progress) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec *core.Record, p Progress) error

func (f ObserverFunc) Observe(rec *core.Record, p Progress) error { return f(rec, p) }

// tag describes where an evaluation came from.
type tag struct {
	phase     string
	seedIndex *int
	island    string
	capped    bool
	// scenario decides whether the record gets scenario metrics.
	scenario func(evaluator.Observation) bool
}

// state is the append-only evaluation log of one run.
type state struct {
	adapter   *evaluator.Adapter
	scenario  *scenario.Evaluator
	cmp       core.Comparator
	budget    int
	trackBest bool
	observer  Observer
	logger    *logging.Logger
	metrics   *metrics.PrometheusMetrics

	records  []*core.Record
	feasible int
	best     *core.Record
	failures map[string]int
	trace    *mechanism.Trace
}

func newState(adapter *evaluator.Adapter, cmp core.Comparator, budget int) *state {
	return &state{
		adapter:   adapter,
		cmp:       cmp,
		budget:    budget,
		trackBest: true,
		logger:    logging.NewNop(),
		failures:  map[string]int{},
		trace:     &mechanism.Trace{},
	}
}

// spent reports whether capped phases may no longer evaluate.
func (s *state) spent() bool { return len(s.records) >= s.budget }

// evaluate runs one evaluation and commits its record.
func (s *state) evaluate(ctx context.Context, proposed core.Point, t tag) (*core.Record, evaluator.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, evaluator.Observation{}, err
	}
	if t.capped && s.spent() {
		return nil, evaluator.Observation{}, ErrBudget
	}
	s.adapter.SetPhase(t.phase)
	obs := s.adapter.Evaluate(ctx, proposed)
	rec := &core.Record{
		Index:              len(s.records),
		Phase:              t.phase,
		SeedIndex:          t.seedIndex,
		IslandID:           t.island,
		Inputs:             obs.Point,
		OK:                 obs.OK,
		Error:              obs.Err,
		Candidate:          obs.Candidate,
		Objective:          obs.Objective,
		WorstHardMargin:    obs.WorstHardMargin,
		DominantConstraint: obs.DominantConstraint,
		DominantMechanism:  obs.DominantMechanism,
		DominantInputs:     obs.DominantInputs,
		NConstraints:       obs.NConstraints,
		NHardFailed:        obs.NHardFailed,
	}
	if s.scenario != nil && t.scenario != nil && t.scenario(obs) {
		m := s.scenario.Metrics(ctx, obs.Point)
		rec.Scenario = &m
	}
	s.commit(rec)
	return rec, obs, nil
}

func (s *state) commit(rec *core.Record) {
	s.records = append(s.records, rec)
	s.trace.Append(rec.TraceLabel())
	if rec.Candidate {
		s.feasible++
		s.metrics.RecordFeasible()
		if s.trackBest && (s.best == nil || s.cmp.Better(rec, s.best)) {
			s.best = rec
			s.metrics.SetBestObjective(rec.Objective)
		}
	} else {
		s.failures[rec.DominantConstraint]++
	}

	p := Progress{
		I:            len(s.records),
		N:            s.budget,
		NFeasible:    s.feasible,
		LastVerdict:  rec.Verdict(),
		LastDominant: rec.DominantConstraint,
		Phase:        rec.Phase,
	}
	s.logger.LogEvaluation(p.I, p.N, p.NFeasible, p.LastVerdict, p.LastDominant, p.Phase)
	if s.observer != nil {
		if err := s.observer.Observe(rec, p); err != nil {
			s.logger.Warn("progress observer failed", "i", p.I, "error", err)
		}
	}
}

// FailureCount is one row of the dominant-failure histogram.
type FailureCount struct {
	Constraint string
	Count      int
}

// Histogram returns failure counts sorted by count descending, then name.
func Histogram(failures map[string]int) []FailureCount {
	out := make([]FailureCount, 0, len(failures))
	for k, v := range failures {
		out = append(out, FailureCount{Constraint: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Constraint < out[j].Constraint
	})
	return out
}
