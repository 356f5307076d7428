package search

import (
	"context"
	"math"
	"math/rand"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/mechanism"
	"github.com/snow-ghost/feasopt/surrogate"
)

const (
	jitterFrac = 0.01
	steerFrac  = 0.05
	minStep    = 1e-12
)

// lastObservation carries what the previous random-phase evaluation
// reported into the next proposal.
type lastObservation struct {
	point          core.Point
	dominantInputs []core.Sensitivity
	mechanism      mechanism.Group
}

func (l *lastObservation) observe(obs evaluator.Observation) {
	l.point = obs.Point
	l.dominantInputs = obs.DominantInputs
	l.mechanism = failureGroup(obs)
}

// failureGroup is the mechanism a sample is attributed to; feasible samples
// and unattributed failures fall under General.
func failureGroup(obs evaluator.Observation) mechanism.Group {
	if obs.Candidate || obs.DominantMechanism == core.NoneFailing {
		return mechanism.General
	}
	return mechanism.Normalize(obs.DominantMechanism)
}

// uniform draws a point uniformly from bounds in declared order.
func uniform(rng *rand.Rand, bounds core.Bounds) core.Point {
	p := make(core.Point, len(bounds))
	for _, bd := range bounds {
		p[bd.Name] = bd.Lo + bd.Span()*rng.Float64()
	}
	return p
}

// strongestSensitivity picks the in-bounds input with the largest finite,
// non-zero |sensitivity|; ties go to the smaller name.
func strongestSensitivity(bounds core.Bounds, hints []core.Sensitivity) (core.Sensitivity, bool) {
	var best core.Sensitivity
	found := false
	for _, h := range hints {
		if !bounds.Has(h.Name) || !core.IsFinite(h.Value) || h.Value == 0 {
			continue
		}
		a, b := math.Abs(h.Value), math.Abs(best.Value)
		if !found || a > b || (a == b && h.Name < best.Name) {
			best, found = h, true
		}
	}
	return best, found
}

func sign(v float64) float64 {
	if v > 0 {
		return 1
	}
	return -1
}

// random runs the (optionally guided) random phase for up to budget
// evaluations.
func (e *Engine) random(ctx context.Context, s *state, rng *rand.Rand, budget int) (*surrogate.Models, error) {
	cfg := e.Config
	bounds := cfg.Bounds
	models := surrogate.NewModels(len(bounds))
	var last lastObservation
	t := tag{phase: PhaseRandom, capped: true, scenario: candidateOnly}

	for range budget {
		if s.spent() {
			break
		}
		proposed := e.propose(rng, s, models, &last)
		_, obs, err := s.evaluate(ctx, proposed, t)
		if err != nil {
			return models, err
		}
		if !obs.OK {
			continue
		}
		group := failureGroup(obs)
		models.Observe(bounds.Normalize(obs.Point), obs.Candidate, string(group))
		if cfg.MechanismClassifier {
			models.Stats.Evaluated[string(group)]++
		}
		last.observe(obs)
	}
	return models, nil
}

// propose applies the proposal chain: sensitivity step, mechanism steering,
// surrogate batch, uniform. Each step runs only when the previous declined.
func (e *Engine) propose(rng *rand.Rand, s *state, models *surrogate.Models, last *lastObservation) core.Point {
	cfg := e.Config
	if cfg.HybridGuidance && cfg.SensitivityStep && len(last.dominantInputs) > 0 {
		if p, ok := sensitivityProposal(rng, cfg.Bounds, last, cfg.SensStepFrac); ok {
			return p
		}
	}
	if cfg.HybridGuidance && cfg.ConstraintAware {
		if p, ok := steeringProposal(rng, cfg.Bounds, last); ok {
			return p
		}
	}
	if cfg.SurrogateGuidance && models.Feasible.N() >= 5 {
		return e.surrogateProposal(rng, s, models, last)
	}
	return uniform(rng, cfg.Bounds)
}

// sensitivityProposal steps the strongest input toward a larger margin and
// jitters the rest around the last point.
func sensitivityProposal(rng *rand.Rand, bounds core.Bounds, last *lastObservation, frac float64) (core.Point, bool) {
	hint, ok := strongestSensitivity(bounds, last.dominantInputs)
	if !ok {
		return nil, false
	}
	bd, _ := bounds.Lookup(hint.Name)
	cur, ok := last.point[hint.Name]
	if !ok {
		cur = bd.Mid()
	}
	p := core.Point{hint.Name: bd.Clamp(cur + sign(hint.Value)*math.Max(minStep, frac*bd.Span()))}
	for _, b := range bounds {
		if b.Name == hint.Name {
			continue
		}
		if v, ok := last.point[b.Name]; ok {
			jitter := b.Span() * jitterFrac * (2*rng.Float64() - 1)
			p[b.Name] = b.Clamp(v + jitter)
		} else {
			p[b.Name] = b.Lo + b.Span()*rng.Float64()
		}
	}
	return p, true
}

// steeringProposal nudges the first lever of the last dominant mechanism.
func steeringProposal(rng *rand.Rand, bounds core.Bounds, last *lastObservation) (core.Point, bool) {
	base := make(core.Point, len(bounds))
	for _, b := range bounds {
		if v, ok := last.point[b.Name]; ok {
			base[b.Name] = b.Clamp(v)
		} else {
			base[b.Name] = b.Lo + b.Span()*rng.Float64()
		}
	}
	group := last.mechanism
	if group == "" {
		group = mechanism.General
	}
	levers := mechanism.Levers(group, bounds.Names())
	if len(levers) == 0 {
		return nil, false
	}
	bd, _ := bounds.Lookup(levers[0])
	dir := -1.0
	if rng.Float64() < 0.5 {
		dir = 1
	}
	base[bd.Name] = bd.Clamp(base[bd.Name] + dir*math.Max(minStep, steerFrac*bd.Span()))
	return base, true
}

// surrogateProposal keeps the best-scoring point of a uniform batch.
func (e *Engine) surrogateProposal(rng *rand.Rand, s *state, models *surrogate.Models, last *lastObservation) core.Point {
	cfg := e.Config
	mechs := models.Mechanisms()
	available := make([]mechanism.Group, len(mechs))
	for i, m := range mechs {
		available[i] = mechanism.Group(m)
	}
	lastGroup := last.mechanism
	if lastGroup == "" {
		lastGroup = mechanism.General
	}
	use := string(mechanism.Choose(cfg.MechanismSwitchMode, lastGroup, s.trace.Labels(), available))

	var clf *surrogate.Classifier
	if cfg.MechanismClassifier {
		if c, ok := models.Lookup(use); ok && c.Ready(cfg.MechMinPos, cfg.MechMinNeg) {
			clf = c
		}
	}

	bestScore := -1.0
	var best core.Point
	for range cfg.MechBatch {
		p := uniform(rng, cfg.Bounds)
		x := cfg.Bounds.Normalize(p)
		score := models.Score(x)
		if clf != nil {
			score *= clf.ProbFeasible(x)
		}
		if cfg.MechanismClassifier {
			models.Stats.Scored[use]++
		}
		if best == nil || score > bestScore {
			bestScore, best = score, p
		}
	}
	return best
}

func candidateOnly(obs evaluator.Observation) bool { return obs.Candidate }
