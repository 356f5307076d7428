package core

import (
	"encoding/json"
	"math"
)

// Record is one entry of the append-only evaluation log.
type Record struct {
	Index              int
	Phase              string
	SeedIndex          *int
	IslandID           string
	Inputs             Point
	OK                 bool
	Error              string
	Candidate          bool
	Objective          float64
	WorstHardMargin    float64
	DominantConstraint string
	DominantMechanism  string
	DominantInputs     []Sensitivity
	NConstraints       int
	NHardFailed        int
	Scenario           *ScenarioMetrics
}

// Verdict is the short progress label for r.
func (r *Record) Verdict() string {
	switch {
	case r.Candidate:
		return "PASS"
	case !r.OK:
		return "ERROR"
	default:
		return "FAIL"
	}
}

// TraceLabel is the mechanism-trace label of r.
func (r *Record) TraceLabel() string {
	if r.Candidate {
		return "FEASIBLE"
	}
	if r.DominantMechanism == "" {
		return GeneralGroup
	}
	return r.DominantMechanism
}

type recordWire struct {
	Index              int           `json:"i"`
	Phase              string        `json:"phase"`
	SeedIndex          *int          `json:"seed_index,omitempty"`
	IslandID           string        `json:"island_id,omitempty"`
	Inputs             Point         `json:"inputs"`
	OK                 bool          `json:"ok"`
	Error              string        `json:"error,omitempty"`
	Candidate          bool          `json:"candidate"`
	Objective          *float64      `json:"objective"`
	WorstHardMargin    *float64      `json:"worst_hard_margin"`
	DominantConstraint string        `json:"dominant_constraint"`
	DominantMechanism  string        `json:"dominant_mechanism"`
	DominantInputs     []Sensitivity `json:"dominant_inputs,omitempty"`
	NConstraints       int           `json:"n_constraints"`
	NHardFailed        int           `json:"n_hard_failed"`
	ScenarioN          *int          `json:"scenario_n,omitempty"`
	ScenarioPass       *int          `json:"scenario_pass,omitempty"`
	ScenarioPassFrac   *float64      `json:"scenario_pass_frac,omitempty"`
	ScenarioWorst      *float64      `json:"scenario_worst_hard_margin,omitempty"`
}

// MarshalJSON writes the record with snake_case keys and null for
// non-finite numbers.
func (r Record) MarshalJSON() ([]byte, error) {
	w := recordWire{
		Index:              r.Index,
		Phase:              r.Phase,
		SeedIndex:          r.SeedIndex,
		IslandID:           r.IslandID,
		Inputs:             r.Inputs,
		OK:                 r.OK,
		Error:              r.Error,
		Candidate:          r.Candidate,
		Objective:          finiteOrNil(r.Objective),
		WorstHardMargin:    finiteOrNil(r.WorstHardMargin),
		DominantConstraint: r.DominantConstraint,
		DominantMechanism:  r.DominantMechanism,
		DominantInputs:     r.DominantInputs,
		NConstraints:       r.NConstraints,
		NHardFailed:        r.NHardFailed,
	}
	if s := r.Scenario; s != nil {
		n, pass := s.N, s.Pass
		w.ScenarioN = &n
		w.ScenarioPass = &pass
		frac := s.PassFrac
		w.ScenarioPassFrac = &frac
		w.ScenarioWorst = finiteOrNil(s.WorstHardMargin)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a record written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w struct {
		recordWire
		Inputs map[string]*float64 `json:"inputs"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	inputs := make(Point, len(w.Inputs))
	for k, v := range w.Inputs {
		inputs[k] = nilToNaN(v)
	}
	*r = Record{
		Index:              w.Index,
		Phase:              w.Phase,
		SeedIndex:          w.SeedIndex,
		IslandID:           w.IslandID,
		Inputs:             inputs,
		OK:                 w.OK,
		Error:              w.Error,
		Candidate:          w.Candidate,
		Objective:          nilToNaN(w.Objective),
		WorstHardMargin:    nilToNaN(w.WorstHardMargin),
		DominantConstraint: w.DominantConstraint,
		DominantMechanism:  w.DominantMechanism,
		DominantInputs:     w.DominantInputs,
		NConstraints:       w.NConstraints,
		NHardFailed:        w.NHardFailed,
	}
	if w.ScenarioPassFrac != nil {
		s := &ScenarioMetrics{PassFrac: *w.ScenarioPassFrac, WorstHardMargin: nilToNaN(w.ScenarioWorst)}
		if w.ScenarioN != nil {
			s.N = *w.ScenarioN
		}
		if w.ScenarioPass != nil {
			s.Pass = *w.ScenarioPass
		}
		r.Scenario = s
	}
	return nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
