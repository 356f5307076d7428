// Package mechanism holds the failure-mechanism vocabulary shared by the
// search strategies: which knobs to steer for a mechanism, which mechanism to
// condition guidance on, and the trace of mechanisms a run visited.
package mechanism

import (
	"strings"

	"github.com/snow-ghost/feasopt/core"
)

// Group is a failure-mechanism label reported by the constraint layer.
type Group string

const (
	Control    Group = "CONTROL"
	Exhaust    Group = "EXHAUST"
	Magnets    Group = "MAGNETS"
	Neutronics Group = "NEUTRONICS"
	Plasma     Group = "PLASMA"
	General    Group = core.GeneralGroup
)

// Normalize upper-cases a label; empty labels become General.
func Normalize(label string) Group {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return General
	}
	return Group(label)
}

// KnobPredicate reports whether a parameter name is a steering lever.
type KnobPredicate func(name string) bool

// containsAny matches names containing any of the fragments, case-insensitively.
func containsAny(fragments ...string) KnobPredicate {
	return func(name string) bool {
		lower := strings.ToLower(name)
		for _, f := range fragments {
			if strings.Contains(lower, f) {
				return true
			}
		}
		return false
	}
}

// steering maps a mechanism to the knobs that typically relieve it.
var steering = map[Group]KnobPredicate{
	Control:    containsAny("pf", "vs", "rwm", "ctrl", "wave", "di_dt", "v_pf", "i_pf"),
	Exhaust:    containsAny("lambda", "q_", "p_sep", "prad", "rad", "f_rad", "te_tgt"),
	Magnets:    containsAny("bt", "b_peak", "r0", "a_", "kappa", "delta", "build", "tf"),
	Neutronics: containsAny("tbr", "shield", "blanket", "fw", "nwl"),
	Plasma:     containsAny("ip", "ngw", "fg", "h98", "te", "ti", "ne", "q95", "beta"),
}

// Levers returns the names, in the given order, that steer group. Unknown
// groups have no levers.
func Levers(group Group, names []string) []string {
	match, ok := steering[group]
	if !ok {
		return nil
	}
	var out []string
	for _, n := range names {
		if match(n) {
			out = append(out, n)
		}
	}
	return out
}

// KnobOrder prioritizes knobs for coordinate search: evaluator-reported
// dominant inputs first, then levers of the dominant mechanism, then the
// remaining knobs in declared order. Names outside knobs are skipped.
func KnobOrder(knobs []string, dominantInputs []core.Sensitivity, group Group) []string {
	known := make(map[string]bool, len(knobs))
	for _, k := range knobs {
		known[k] = true
	}
	seen := make(map[string]bool, len(knobs))
	out := make([]string, 0, len(knobs))
	add := func(k string) {
		if known[k] && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, s := range dominantInputs {
		add(s.Name)
	}
	for _, k := range Levers(group, knobs) {
		add(k)
	}
	for _, k := range knobs {
		add(k)
	}
	return out
}
