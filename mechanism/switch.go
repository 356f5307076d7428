package mechanism

import (
	"fmt"
	"sort"
)

// SwitchMode selects which mechanism conditions classifier lookups.
type SwitchMode string

const (
	Neutral SwitchMode = "neutral"
	Avoid   SwitchMode = "avoid"
	Seek    SwitchMode = "seek"
)

// recentWindow is how many trace labels Seek considers.
const recentWindow = 200

// ParseSwitchMode validates a mode name; empty means Neutral.
func ParseSwitchMode(s string) (SwitchMode, error) {
	switch SwitchMode(s) {
	case "":
		return Neutral, nil
	case Neutral, Avoid, Seek:
		return SwitchMode(s), nil
	}
	return "", fmt.Errorf("mechanism_switch_mode must be neutral, avoid, or seek, got %q", s)
}

// Choose picks the mechanism label used for classifier lookup.
//
// Neutral and Avoid stay on the last dominant mechanism when it is known,
// otherwise the alphabetically first available one. Seek moves to a
// different mechanism, preferring the least frequent in the last 200 trace
// labels and breaking ties alphabetically.
func Choose(mode SwitchMode, last Group, trace []string, available []Group) Group {
	if last == "" {
		last = General
	}
	set := make(map[Group]bool, len(available))
	for _, a := range available {
		if a != "" {
			set[Normalize(string(a))] = true
		}
	}
	if len(set) == 0 {
		return last
	}
	avail := make([]Group, 0, len(set))
	for a := range set {
		avail = append(avail, a)
	}
	sort.Slice(avail, func(i, j int) bool { return avail[i] < avail[j] })

	if mode != Seek {
		if set[last] {
			return last
		}
		return avail[0]
	}

	if len(trace) > recentWindow {
		trace = trace[len(trace)-recentWindow:]
	}
	counts := make(map[Group]int, len(avail))
	for _, s := range trace {
		g := Normalize(s)
		if set[g] {
			counts[g]++
		}
	}
	candidates := make([]Group, 0, len(avail))
	for _, a := range avail {
		if a != last {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		candidates = avail
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := counts[candidates[i]], counts[candidates[j]]
		if ci != cj {
			return ci < cj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0]
}
