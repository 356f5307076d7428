package mechanism

import (
	"fmt"
	"sort"
	"strings"
)

// maxSwitchPoints caps the switch list written to the evidence pack.
const maxSwitchPoints = 2000

// Trace is the ordered sequence of per-evaluation labels: FEASIBLE or the
// dominant mechanism of a rejected point.
type Trace struct {
	labels []string
}

// Append records the label of one evaluation.
func (t *Trace) Append(label string) {
	if label == "" {
		label = string(General)
	}
	t.labels = append(t.labels, strings.ToUpper(label))
}

// Labels returns the recorded labels.
func (t *Trace) Labels() []string { return t.labels }

// Len is the number of recorded labels.
func (t *Trace) Len() int { return len(t.labels) }

// TransitionMap summarizes label-to-label transitions.
type TransitionMap struct {
	SequenceLen int                           `json:"sequence_len"`
	States      []string                      `json:"states"`
	StateCounts map[string]int                `json:"state_counts"`
	Counts      map[string]map[string]int     `json:"transitions_counts"`
	Normalized  map[string]map[string]float64 `json:"transitions_normalized"`
}

// Transitions computes the transition map of the trace.
func (t *Trace) Transitions() TransitionMap {
	m := TransitionMap{
		SequenceLen: len(t.labels),
		States:      t.states(),
		StateCounts: map[string]int{},
		Counts:      map[string]map[string]int{},
		Normalized:  map[string]map[string]float64{},
	}
	for _, s := range t.labels {
		m.StateCounts[s]++
	}
	for i := 0; i+1 < len(t.labels); i++ {
		a, b := t.labels[i], t.labels[i+1]
		if m.Counts[a] == nil {
			m.Counts[a] = map[string]int{}
		}
		m.Counts[a][b]++
	}
	for a, row := range m.Counts {
		total := 0
		for _, c := range row {
			total += c
		}
		m.Normalized[a] = make(map[string]float64, len(row))
		for b, c := range row {
			m.Normalized[a][b] = float64(c) / float64(total)
		}
	}
	return m
}

// Switch is one change of label between consecutive evaluations.
type Switch struct {
	I    int    `json:"i"`
	From string `json:"from"`
	To   string `json:"to"`
}

// SwitchPoints lists label changes, capped at 2000 entries. N is the
// uncapped count.
func (t *Trace) SwitchPoints() (n int, switches []Switch) {
	switches = []Switch{}
	for i := 0; i+1 < len(t.labels); i++ {
		if t.labels[i] == t.labels[i+1] {
			continue
		}
		n++
		if len(switches) < maxSwitchPoints {
			switches = append(switches, Switch{I: i, From: t.labels[i], To: t.labels[i+1]})
		}
	}
	return n, switches
}

// MatrixCSV renders the transition counts as a square CSV matrix.
func (t *Trace) MatrixCSV() string {
	m := t.Transitions()
	var b strings.Builder
	b.WriteString(`from\to`)
	for _, s := range m.States {
		b.WriteByte(',')
		b.WriteString(s)
	}
	b.WriteByte('\n')
	for _, a := range m.States {
		b.WriteString(a)
		for _, s := range m.States {
			fmt.Fprintf(&b, ",%d", m.Counts[a][s])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Trace) states() []string {
	set := map[string]bool{}
	for _, s := range t.labels {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
