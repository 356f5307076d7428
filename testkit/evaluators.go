// Package testkit provides deterministic analytic evaluators for tests and
// for the CLI's builtin evaluator mode.
package testkit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/snow-ghost/feasopt/core"
)

// Sum reports objective = x+y with one hard constraint x+y <= Cap.
type Sum struct {
	Cap   float64
	calls atomic.Int64
}

// NewSum returns the x+y <= 12 evaluator.
func NewSum() *Sum { return &Sum{Cap: 12} }

func (s *Sum) Fields() []string { return []string{"x", "y"} }

// Calls counts Evaluate invocations.
func (s *Sum) Calls() int { return int(s.calls.Load()) }

func (s *Sum) Evaluate(_ context.Context, p core.Point) (core.Outcome, error) {
	s.calls.Add(1)
	sum := p["x"] + p["y"]
	return core.Outcome{
		OK:  true,
		Out: map[string]float64{"objective": sum, "sum": sum},
		Constraints: []core.Constraint{{
			Name:           "sum_cap",
			Severity:       "hard",
			Passed:         sum <= s.Cap,
			Margin:         (s.Cap - sum) / s.Cap,
			MechanismGroup: "PLASMA",
		}},
		DominantInputs: []core.Sensitivity{{Name: "x", Value: -1 / s.Cap}, {Name: "y", Value: -1 / s.Cap}},
	}, nil
}

// Reactor is a toy tokamak-like model with constraints in every mechanism
// group. It is smooth and deterministic, not physical.
type Reactor struct {
	calls atomic.Int64
}

// NewReactor returns the toy reactor evaluator.
func NewReactor() *Reactor { return &Reactor{} }

// ReactorBounds is a search domain that contains feasible and infeasible
// regions for every mechanism.
func ReactorBounds() core.Bounds {
	return core.Bounds{
		{Name: "Ip_MA", Lo: 5, Hi: 20},
		{Name: "Bt_T", Lo: 3, Hi: 8},
		{Name: "R0_m", Lo: 4, Hi: 9},
		{Name: "kappa", Lo: 1.5, Hi: 2.2},
		{Name: "f_rad", Lo: 0.2, Hi: 0.9},
		{Name: "blanket_m", Lo: 0.5, Hi: 1.5},
	}
}

var reactorFields = []string{"Ip_MA", "Bt_T", "R0_m", "kappa", "f_rad", "blanket_m"}

func (r *Reactor) Fields() []string { return reactorFields }

// Calls counts Evaluate invocations.
func (r *Reactor) Calls() int { return int(r.calls.Load()) }

func (r *Reactor) Evaluate(_ context.Context, p core.Point) (core.Outcome, error) {
	r.calls.Add(1)
	for _, k := range reactorFields {
		if _, ok := p[k]; !ok {
			return core.Outcome{}, fmt.Errorf("missing input %s", k)
		}
	}
	out := reactorOutputs(p)
	cs := reactorConstraints(out)
	return core.Outcome{
		OK:             true,
		Out:            out,
		Constraints:    cs,
		DominantInputs: reactorSensitivities(p, cs),
	}, nil
}

func reactorOutputs(p core.Point) map[string]float64 {
	ip, bt, r0, kappa := p["Ip_MA"], p["Bt_T"], p["R0_m"], p["kappa"]
	minor := r0 / 3
	q95 := 5 * minor * minor * bt * (1 + kappa*kappa) / 2 / (r0 * ip)
	inboard := math.Max(r0-minor-p["blanket_m"]-0.5, 0.1)
	bPeak := bt * r0 / inboard
	pFus := 2 * ip * ip * bt * bt * r0 * kappa / 100
	pSep := 0.2 * pFus * (1 - p["f_rad"])
	tbr := 0.9 + 0.25*p["blanket_m"]
	betaN := 4 * ip / (minor * bt)
	recirc := (150 + 5*bt*bt) / math.Max(0.4*pFus, 1)
	return map[string]float64{
		"q95":         q95,
		"B_peak_T":    bPeak,
		"P_fus_MW":    pFus,
		"P_sep_R_MWm": pSep / r0,
		"TBR":         tbr,
		"beta_N":      betaN,
		"P_net_MW":    0.4*pFus - 150 - 5*bt*bt,
		"CAPEX_$":     1e9 * r0 * r0 * bt / 50,
		"recirc_frac": recirc,
	}
}

func reactorConstraints(out map[string]float64) []core.Constraint {
	atLeast := func(name, group, key string, limit float64) core.Constraint {
		m := (out[key] - limit) / limit
		return core.Constraint{Name: name, Severity: "hard", Passed: m >= 0, Margin: m, MechanismGroup: group}
	}
	atMost := func(name, group, key string, limit float64) core.Constraint {
		m := (limit - out[key]) / limit
		return core.Constraint{Name: name, Severity: "hard", Passed: m >= 0, Margin: m, MechanismGroup: group}
	}
	beta := atMost("beta_N_max", "CONTROL", "beta_N", 4.5)
	beta.Severity = "diagnostic"
	return []core.Constraint{
		atLeast("q95_min", "PLASMA", "q95", 3),
		atMost("B_peak_max", "MAGNETS", "B_peak_T", 16),
		atMost("P_sep_R_max", "EXHAUST", "P_sep_R_MWm", 25),
		atLeast("TBR_min", "NEUTRONICS", "TBR", 1.05),
		beta,
	}
}

// reactorSensitivities ranks inputs by the finite-difference slope of the
// worst constraint margin, largest magnitude first.
func reactorSensitivities(p core.Point, cs []core.Constraint) []core.Sensitivity {
	target := core.DominantConstraint(cs)
	if target == core.NoneFailing {
		return nil
	}
	margin := func(q core.Point) float64 {
		for _, c := range reactorConstraints(reactorOutputs(q)) {
			if c.Name == target {
				return c.Margin
			}
		}
		return math.NaN()
	}
	base := margin(p)
	out := make([]core.Sensitivity, 0, len(reactorFields))
	for _, k := range reactorFields {
		h := 1e-4 * math.Max(math.Abs(p[k]), 1)
		q := p.Clone()
		q[k] += h
		out = append(out, core.Sensitivity{Name: k, Value: (margin(q) - base) / h})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Value) > math.Abs(out[j].Value)
	})
	return out[:3]
}

// Faulty wraps an evaluator and fails deterministically wherever Fails
// reports true. Panic selects a panic instead of an error.
type Faulty struct {
	Inner core.Evaluator
	Fails func(core.Point) bool
	Panic bool
}

func (f *Faulty) Evaluate(ctx context.Context, p core.Point) (core.Outcome, error) {
	if f.Fails != nil && f.Fails(p) {
		if f.Panic {
			panic(fmt.Sprintf("evaluator crashed at %s", p.Key()))
		}
		return core.Outcome{}, fmt.Errorf("evaluator failed at %s", p.Key())
	}
	return f.Inner.Evaluate(ctx, p)
}

// Lookup returns a builtin evaluator by name.
func Lookup(name string) (core.Evaluator, error) {
	switch name {
	case "sum":
		return NewSum(), nil
	case "reactor":
		return NewReactor(), nil
	}
	return nil, fmt.Errorf("unknown builtin evaluator %q", name)
}
