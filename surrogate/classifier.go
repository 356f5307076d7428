package surrogate

import (
	"math"
	"sort"
)

// Classifier is a per-mechanism likelihood-ratio feasibility model. Pos holds
// feasible samples and Neg the failures attributed to Mechanism.
type Classifier struct {
	Mechanism string
	Pos       *DiagGauss
	Neg       *DiagGauss
}

// Ready reports whether both sides reached their minimum sample counts.
func (c *Classifier) Ready(minPos, minNeg int) bool {
	return c.Pos.N() >= minPos && c.Neg.N() >= minNeg
}

// ProbFeasible is sigmoid(log p(x|feasible) - log p(x|mechanism failure)).
func (c *Classifier) ProbFeasible(x []float64) float64 {
	return sigmoid(c.Pos.LogLikelihood(x) - c.Neg.LogLikelihood(x))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// FilterStats counts surrogate-batch work per mechanism.
type FilterStats struct {
	Scored    map[string]int `json:"scored"`
	Evaluated map[string]int `json:"evaluated"`
}

// Models is the online surrogate bundle of one search phase.
type Models struct {
	dim         int
	Feasible    *DiagGauss
	Failures    map[string]*DiagGauss
	classifiers map[string]*Classifier
	Stats       FilterStats
}

// NewModels returns empty models over dim-dimensional vectors.
func NewModels(dim int) *Models {
	return &Models{
		dim:         dim,
		Feasible:    NewDiagGauss(dim),
		Failures:    map[string]*DiagGauss{},
		classifiers: map[string]*Classifier{},
		Stats:       FilterStats{Scored: map[string]int{}, Evaluated: map[string]int{}},
	}
}

// Observe routes one evaluated sample. Feasible samples update the shared
// model and the positive side of every existing classifier. Failures update
// the mechanism's failure model and the negative side of its classifier,
// which is created on first sight with a snapshot of the feasible model.
func (m *Models) Observe(x []float64, feasible bool, mechanism string) {
	if feasible {
		m.Feasible.Update(x)
		for _, c := range m.classifiers {
			c.Pos.Update(x)
		}
		return
	}
	f, ok := m.Failures[mechanism]
	if !ok {
		f = NewDiagGauss(m.dim)
		m.Failures[mechanism] = f
	}
	f.Update(x)
	m.Classifier(mechanism).Neg.Update(x)
}

// Classifier returns the classifier for mechanism, creating it if needed.
func (m *Models) Classifier(mechanism string) *Classifier {
	c, ok := m.classifiers[mechanism]
	if !ok {
		c = &Classifier{Mechanism: mechanism, Pos: m.Feasible.Snapshot(), Neg: NewDiagGauss(m.dim)}
		m.classifiers[mechanism] = c
	}
	return c
}

// Lookup returns an existing classifier without creating one.
func (m *Models) Lookup(mechanism string) (*Classifier, bool) {
	c, ok := m.classifiers[mechanism]
	return c, ok
}

// Mechanisms lists the mechanisms with a failure model, sorted.
func (m *Models) Mechanisms() []string {
	out := make([]string, 0, len(m.Failures))
	for k := range m.Failures {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Score is the combined surrogate score of x.
func (m *Models) Score(x []float64) float64 {
	return Score(x, m.Feasible, m.Failures)
}

// ClassifierSummary is the persisted view of one classifier.
type ClassifierSummary struct {
	Mechanism string    `json:"mechanism"`
	NPos      int       `json:"n_pos"`
	NNeg      int       `json:"n_neg"`
	PosMean   []float64 `json:"pos_mean"`
	NegMean   []float64 `json:"neg_mean"`
	PosVar    []float64 `json:"pos_var"`
	NegVar    []float64 `json:"neg_var"`
}

// Summaries describes every classifier, sorted by mechanism.
func (m *Models) Summaries() []ClassifierSummary {
	names := make([]string, 0, len(m.classifiers))
	for k := range m.classifiers {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]ClassifierSummary, 0, len(names))
	for _, k := range names {
		c := m.classifiers[k]
		out = append(out, ClassifierSummary{
			Mechanism: k,
			NPos:      c.Pos.N(),
			NNeg:      c.Neg.N(),
			PosMean:   c.Pos.Mean(),
			NegMean:   c.Neg.Mean(),
			PosVar:    c.Pos.Var(),
			NegVar:    c.Neg.Var(),
		})
	}
	return out
}
