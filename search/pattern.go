package search

import (
	"context"
	"math"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/mechanism"
)

const (
	patternStepFrac = 0.10
	patternMinFrac  = 0.001
)

// pattern runs a feasible-only coordinate search around one seed for at
// most budget evaluations. Trials are accepted only when they are
// candidates that beat the local best; the search re-centers on each
// accepted trial and halves every step when a sweep finds nothing.
func (e *Engine) pattern(ctx context.Context, s *state, seed config.Seed, seedIndex int, island string, budget int) error {
	cfg := e.Config
	bounds := cfg.Bounds
	names := bounds.Names()
	idx := seedIndex
	t := tag{phase: PhaseSeedPattern, seedIndex: &idx, island: island, capped: true, scenario: candidateOnly}

	step := make(map[string]float64, len(bounds))
	floor := make(map[string]float64, len(bounds))
	for _, bd := range bounds {
		step[bd.Name] = math.Max(minStep, patternStepFrac*bd.Span())
		floor[bd.Name] = math.Max(minStep, patternMinFrac*bd.Span())
	}

	used := 0
	var best, last *core.Record
	x := bounds.Start(seed.Inputs)
	eval := func(p core.Point) (*core.Record, error) {
		rec, _, err := s.evaluate(ctx, p, t)
		if err != nil {
			return nil, err
		}
		used++
		last = rec
		return rec, nil
	}
	// accept reports whether rec replaced the local best.
	accept := func(rec *core.Record, p core.Point) bool {
		if !rec.Candidate || (best != nil && !s.cmp.Better(rec, best)) {
			return false
		}
		best, x = rec, p
		return true
	}

	if _, err := eval(x); err != nil {
		return err
	}
	if last.Candidate {
		best = last
	}

	for used < budget {
		improved := false

		if cfg.SensitivityStep && !last.Candidate {
			if hint, ok := strongestSensitivity(bounds, last.DominantInputs); ok && used < budget {
				bd, _ := bounds.Lookup(hint.Name)
				trial := x.Clone()
				trial[hint.Name] = bd.Clamp(x[hint.Name] + sign(hint.Value)*math.Max(minStep, cfg.SensStepFrac*bd.Span()))
				rec, err := eval(trial)
				if err != nil {
					return err
				}
				if accept(rec, trial) {
					improved = true
				}
			}
		}

		order := names
		if cfg.ConstraintAware {
			order = mechanism.KnobOrder(names, last.DominantInputs, mechanism.Normalize(last.DominantMechanism))
		}
		for _, k := range order {
			if used >= budget {
				break
			}
			bd, _ := bounds.Lookup(k)
			cur := x[k]
			for _, dir := range []float64{1, -1} {
				if used >= budget {
					break
				}
				trial := x.Clone()
				trial[k] = bd.Clamp(cur + dir*step[k])
				rec, err := eval(trial)
				if err != nil {
					return err
				}
				if accept(rec, trial) {
					improved = true
				}
			}
		}

		if !improved {
			done := true
			for _, k := range names {
				step[k] *= 0.5
				if step[k] > floor[k] {
					done = false
				}
			}
			if done {
				break
			}
		}
	}
	return nil
}
