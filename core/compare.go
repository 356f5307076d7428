package core

import "math"

// Comparator ranks feasible records under an objective contract.
type Comparator struct {
	Contract ObjectiveContract
}

// NewComparator returns a comparator for c.
func NewComparator(c ObjectiveContract) Comparator { return Comparator{Contract: c} }

// Compare returns +1 if a ranks above b, -1 if below and 0 if tied.
func (c Comparator) Compare(a, b *Record) int {
	if c.Contract.ScenarioRobustness && a.Scenario != nil && b.Scenario != nil {
		if r := cmpHigher(a.Scenario.PassFrac, b.Scenario.PassFrac); r != 0 {
			return r
		}
		if r := cmpHigher(a.Scenario.WorstHardMargin, b.Scenario.WorstHardMargin); r != 0 {
			return r
		}
	}
	if c.Contract.RobustnessFirst {
		if r := cmpHigher(a.WorstHardMargin, b.WorstHardMargin); r != 0 {
			return r
		}
	}
	return c.compareObjective(a.Objective, b.Objective)
}

// Better reports whether a strictly ranks above b.
func (c Comparator) Better(a, b *Record) bool { return c.Compare(a, b) > 0 }

func (c Comparator) compareObjective(a, b float64) int {
	fa, fb := IsFinite(a), IsFinite(b)
	switch {
	case fa && !fb:
		return 1
	case !fa && fb:
		return -1
	case !fa && !fb:
		return 0
	}
	if c.Contract.Direction == Minimize {
		a, b = -a, -b
	}
	return cmpHigher(a, b)
}

// cmpHigher prefers larger values with non-finite treated as -inf.
func cmpHigher(a, b float64) int {
	if !IsFinite(a) {
		a = math.Inf(-1)
	}
	if !IsFinite(b) {
		b = math.Inf(-1)
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}
