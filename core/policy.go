package core

import (
	"fmt"
	"math"
)

// PolicyMode selects which constraint severities gate acceptance.
type PolicyMode string

const (
	// StrictPass accepts iff every hard and every diagnostic constraint passes.
	StrictPass PolicyMode = "strict_pass"
	// PassPlusDiag accepts iff every hard constraint passes.
	PassPlusDiag PolicyMode = "pass_plus_diag"
)

// ParsePolicyMode validates a policy name.
func ParsePolicyMode(s string) (PolicyMode, error) {
	switch PolicyMode(s) {
	case StrictPass, PassPlusDiag:
		return PolicyMode(s), nil
	}
	return "", fmt.Errorf("policy must be strict_pass or pass_plus_diag, got %q", s)
}

// IsCandidate classifies a constraint list under mode.
func IsCandidate(mode PolicyMode, cs []Constraint) bool {
	for _, c := range cs {
		if c.Passed {
			continue
		}
		if c.Hard() || mode == StrictPass {
			return false
		}
	}
	return true
}

// dominant returns the index of the dominant failing constraint, or -1.
// The worst failing hard constraint wins; the first one wins ties. Without a
// finite failing hard margin the first failing constraint of any severity is
// used.
func dominant(cs []Constraint) int {
	idx := -1
	worst := math.Inf(1)
	for i, c := range cs {
		if !c.Hard() || c.Passed || !IsFinite(c.Margin) {
			continue
		}
		if c.Margin < worst {
			worst = c.Margin
			idx = i
		}
	}
	if idx >= 0 {
		return idx
	}
	for i, c := range cs {
		if !c.Passed {
			return i
		}
	}
	return -1
}

// DominantConstraint names the constraint that explains a rejection.
func DominantConstraint(cs []Constraint) string {
	i := dominant(cs)
	if i < 0 {
		return NoneFailing
	}
	if cs[i].Name == "" {
		return "constraint"
	}
	return cs[i].Name
}

// DominantMechanism is the mechanism group of the dominant constraint.
func DominantMechanism(cs []Constraint) string {
	i := dominant(cs)
	if i < 0 {
		return NoneFailing
	}
	if cs[i].MechanismGroup == "" {
		return GeneralGroup
	}
	return cs[i].MechanismGroup
}

// WorstHardMargin is the smallest finite hard margin, NaN if there is none.
func WorstHardMargin(cs []Constraint) float64 {
	worst := math.Inf(1)
	for _, c := range cs {
		if c.Hard() && IsFinite(c.Margin) && c.Margin < worst {
			worst = c.Margin
		}
	}
	if math.IsInf(worst, 1) {
		return math.NaN()
	}
	return worst
}

// HardFailures counts failing hard constraints.
func HardFailures(cs []Constraint) int {
	n := 0
	for _, c := range cs {
		if c.Hard() && !c.Passed {
			n++
		}
	}
	return n
}
