package search

import (
	"context"
	"math"
	"sort"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
)

const maxBacktracks = 20

// IslandFrontier is the frontier one island's trace produced.
type IslandFrontier struct {
	IslandID        string         `json:"island_id"`
	Frontier        []*core.Record `json:"-"`
	FrontierN       int            `json:"frontier_n"`
	MechanismCounts map[string]int `json:"dominant_mechanism_counts"`
}

// onFrontier reports whether a margin lies in [0, tol].
func onFrontier(margin, tol float64) bool {
	return core.IsFinite(margin) && margin >= 0 && margin <= tol
}

// trace walks along the feasibility boundary from seed for steps knob moves.
// It returns the accepted points whose worst hard margin is within tol.
func (e *Engine) trace(ctx context.Context, s *state, seed core.Point, island string, steps int) ([]*core.Record, error) {
	cfg := e.Config
	bounds := cfg.Bounds
	tol := cfg.BoundaryTol
	start := tag{phase: PhaseBoundaryStart, island: island}
	move := tag{phase: PhaseBoundaryStep, island: island, scenario: func(obs evaluator.Observation) bool {
		return obs.Candidate && onFrontier(obs.WorstHardMargin, tol)
	}}

	x := bounds.Start(seed)
	rec, _, err := s.evaluate(ctx, x, start)
	if err != nil {
		return nil, err
	}
	if !rec.Candidate {
		e.logger().Info("boundary start is infeasible, nothing to trace", "island_id", island, "dominant", rec.DominantConstraint)
		return nil, nil
	}

	knobs := bounds.Names()
	sort.Strings(knobs)
	size := make(map[string]float64, len(bounds))
	for _, bd := range bounds {
		size[bd.Name] = math.Max(minStep, cfg.BoundaryStepFrac*bd.Span())
	}

	var frontier []*core.Record
	for i := range steps {
		k := knobs[i%len(knobs)]
		bd, _ := bounds.Lookup(k)
		for _, dir := range []float64{1, -1} {
			trial := x.Clone()
			trial[k] = bd.Clamp(trial[k] + dir*size[k])
			bt := 1.0
			var got *core.Record
			for range maxBacktracks {
				got, _, err = s.evaluate(ctx, trial, move)
				if err != nil {
					return frontier, err
				}
				if got.Candidate {
					break
				}
				bt *= 0.5
				trial[k] = bd.Clamp(x[k] + dir*bt*size[k])
			}
			if got != nil && got.Candidate {
				x = trial
				if onFrontier(got.WorstHardMargin, tol) {
					frontier = append(frontier, got)
				}
				break
			}
		}
	}
	return frontier, nil
}

// islands groups seeds by island id, sorted with the untagged group last.
// Without seeds there is a single untagged island with no seed values.
func islands(seeds []config.Seed) ([]string, map[string][]config.Seed) {
	groups := map[string][]config.Seed{}
	for _, sd := range seeds {
		id := sd.Island()
		groups[id] = append(groups[id], sd)
	}
	if len(seeds) == 0 {
		groups[config.NoIsland] = []config.Seed{{Inputs: core.Point{}}}
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sortIslands(ids)
	return ids, groups
}

// traceMulti runs an independent trace per island and tags every record with
// its island id.
func (e *Engine) traceMulti(ctx context.Context, s *state) ([]IslandFrontier, error) {
	ids, groups := islands(e.Config.Seeds)
	steps := max(5, e.Config.BoundarySteps/len(ids))

	out := make([]IslandFrontier, 0, len(ids))
	for _, id := range ids {
		frontier, err := e.trace(ctx, s, groups[id][0].Inputs, id, steps)
		fam := IslandFrontier{IslandID: id, Frontier: frontier, FrontierN: len(frontier), MechanismCounts: map[string]int{}}
		for _, r := range frontier {
			fam.MechanismCounts[r.DominantMechanism]++
		}
		out = append(out, fam)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
