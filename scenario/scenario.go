// Package scenario scores a feasible point by re-evaluating it on the corners
// of a multiplicative uncertainty cube.
package scenario

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
)

// DefaultMax is the default corner cap.
const DefaultMax = 16

// Factors maps an input name to its [low, high] multiplicative factors.
type Factors map[string][2]float64

// Validate rejects non-positive or non-finite factors.
func (f Factors) Validate() error {
	for k, lh := range f {
		for _, v := range lh {
			if !core.IsFinite(v) || v <= 0 {
				return fmt.Errorf("scenario_factors[%s] must be positive, got %v", k, lh)
			}
		}
	}
	return nil
}

// Corners enumerates the corner points of the cube around base. Only keys
// present in base are perturbed, in sorted order; corner i applies the high
// factor of key j when bit j of i is set. At most max corners are returned.
// Without perturbable keys the only corner is base itself.
func Corners(base core.Point, factors Factors, max int) []core.Point {
	keys := make([]string, 0, len(factors))
	for k := range factors {
		if v, ok := base[k]; ok && !math.IsNaN(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return []core.Point{base.Clone()}
	}
	if max < 1 {
		max = 1
	}

	n := max
	if len(keys) < 31 && 1<<len(keys) < n {
		n = 1 << len(keys)
	}
	out := make([]core.Point, 0, n)
	for mask := 0; mask < n; mask++ {
		p := base.Clone()
		for i, k := range keys {
			p[k] = base[k] * factors[k][(mask>>i)&1]
		}
		out = append(out, p)
	}
	return out
}

// Prober evaluates an exact point through the feasibility policy.
type Prober interface {
	EvaluateExact(ctx context.Context, p core.Point) evaluator.Observation
}

// Evaluator computes scenario metrics for candidates.
type Evaluator struct {
	prober  Prober
	factors Factors
	max     int
	calls   int
}

// New creates a scenario evaluator.
func New(prober Prober, factors Factors, max int) *Evaluator {
	if max <= 0 {
		max = DefaultMax
	}
	return &Evaluator{prober: prober, factors: factors, max: max}
}

// Calls counts corner evaluations so far.
func (e *Evaluator) Calls() int { return e.calls }

// Metrics evaluates every corner of base.
func (e *Evaluator) Metrics(ctx context.Context, base core.Point) core.ScenarioMetrics {
	corners := Corners(base, e.factors, e.max)
	m := core.ScenarioMetrics{N: len(corners), WorstHardMargin: math.NaN()}
	worst := math.Inf(1)
	for _, c := range corners {
		e.calls++
		obs := e.prober.EvaluateExact(ctx, c)
		if obs.Candidate {
			m.Pass++
		}
		if core.IsFinite(obs.WorstHardMargin) && obs.WorstHardMargin < worst {
			worst = obs.WorstHardMargin
		}
	}
	if !math.IsInf(worst, 1) {
		m.WorstHardMargin = worst
	}
	if m.N > 0 {
		m.PassFrac = float64(m.Pass) / float64(m.N)
	}
	return m
}
