package core

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reserved dominant-constraint labels.
const (
	EvaluationError = "EVALUATION_ERROR"
	NoneFailing     = "NONE"
	GeneralGroup    = "GENERAL"
)

// Point maps parameter names to values.
type Point map[string]float64

// Clone returns an independent copy of p.
func (p Point) Clone() Point {
	out := make(Point, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge layers points left to right; later layers win.
func Merge(layers ...Point) Point {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	out := make(Point, n)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// Key returns a canonical string for p, stable across map iteration order.
func (p Point) Key() string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(p[k], 'g', -1, 64))
	}
	return b.String()
}

// MarshalJSON writes non-finite values as null.
func (p Point) MarshalJSON() ([]byte, error) {
	wire := make(map[string]*float64, len(p))
	for k, v := range p {
		wire[k] = finiteOrNil(v)
	}
	return json.Marshal(wire)
}

// Bound is the closed search interval of one parameter.
type Bound struct {
	Name string
	Lo   float64
	Hi   float64
}

// Bounds is the search domain in declared order.
type Bounds []Bound

// Validate checks that every interval is finite and non-empty.
func (b Bounds) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("bounds must not be empty")
	}
	seen := make(map[string]bool, len(b))
	for _, bd := range b {
		if bd.Name == "" {
			return fmt.Errorf("bound with empty name")
		}
		if seen[bd.Name] {
			return fmt.Errorf("duplicate bound %q", bd.Name)
		}
		seen[bd.Name] = true
		if math.IsNaN(bd.Lo) || math.IsInf(bd.Lo, 0) || math.IsNaN(bd.Hi) || math.IsInf(bd.Hi, 0) || !(bd.Hi > bd.Lo) {
			return fmt.Errorf("invalid bounds for %s: lo=%g, hi=%g", bd.Name, bd.Lo, bd.Hi)
		}
	}
	return nil
}

// Names returns the parameter names in declared order.
func (b Bounds) Names() []string {
	out := make([]string, len(b))
	for i, bd := range b {
		out[i] = bd.Name
	}
	return out
}

// Lookup returns the bound for name.
func (b Bounds) Lookup(name string) (Bound, bool) {
	for _, bd := range b {
		if bd.Name == name {
			return bd, true
		}
	}
	return Bound{}, false
}

// Has reports whether name is a searched parameter.
func (b Bounds) Has(name string) bool {
	_, ok := b.Lookup(name)
	return ok
}

// Span returns hi-lo.
func (bd Bound) Span() float64 { return bd.Hi - bd.Lo }

// Mid returns the interval midpoint.
func (bd Bound) Mid() float64 { return (bd.Lo + bd.Hi) / 2 }

// Clamp limits v to the interval.
func (bd Bound) Clamp(v float64) float64 {
	return math.Min(math.Max(v, bd.Lo), bd.Hi)
}

// Mid returns the midpoint of the domain.
func (b Bounds) Mid() Point {
	out := make(Point, len(b))
	for _, bd := range b {
		out[bd.Name] = bd.Mid()
	}
	return out
}

// Start builds a point inside the domain from seed values, using the
// midpoint for parameters the seed does not carry.
func (b Bounds) Start(seed Point) Point {
	out := make(Point, len(b))
	for _, bd := range b {
		v, ok := seed[bd.Name]
		if !ok || math.IsNaN(v) {
			v = bd.Mid()
		}
		out[bd.Name] = bd.Clamp(v)
	}
	return out
}

// Normalize maps p into the unit cube in declared order. Missing values map
// to the lower bound.
func (b Bounds) Normalize(p Point) []float64 {
	x := make([]float64, len(b))
	for i, bd := range b {
		v, ok := p[bd.Name]
		if !ok {
			v = bd.Lo
		}
		den := bd.Span()
		if den == 0 {
			den = 1
		}
		x[i] = (v - bd.Lo) / den
	}
	return x
}

// UnmarshalYAML decodes a mapping of name -> [lo, hi], keeping key order.
func (b *Bounds) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("bounds must be a mapping, got line %d", node.Line)
	}
	out := make(Bounds, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var pair []float64
		if err := node.Content[i+1].Decode(&pair); err != nil {
			return fmt.Errorf("bounds[%s]: %w", name, err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("bounds[%s] must be [lo, hi]", name)
		}
		out = append(out, Bound{Name: name, Lo: pair[0], Hi: pair[1]})
	}
	*b = out
	return nil
}

// MarshalJSON writes an object in declared order.
func (b Bounds) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, bd := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		name, err := json.Marshal(bd.Name)
		if err != nil {
			return nil, err
		}
		pair, err := json.Marshal([2]float64{bd.Lo, bd.Hi})
		if err != nil {
			return nil, err
		}
		sb.Write(name)
		sb.WriteByte(':')
		sb.Write(pair)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// Constraint is one verdict derived from evaluator outputs.
type Constraint struct {
	Name           string  `json:"name"`
	Severity       string  `json:"severity"`
	Passed         bool    `json:"passed"`
	Margin         float64 `json:"margin"`
	MechanismGroup string  `json:"mechanism_group,omitempty"`
}

// Hard reports whether the constraint has hard severity.
func (c Constraint) Hard() bool { return c.Severity == "" || c.Severity == "hard" }

// Sensitivity is a ranked evaluator hint: d(margin)/d(input).
type Sensitivity struct {
	Name  string
	Value float64
}

// UnmarshalJSON accepts "name" or {"name"|"var"|"knob", "dmargin_dx"|"sensitivity"|"grad"}.
func (s *Sensitivity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = Sensitivity{Name: name, Value: math.NaN()}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sensitivity: %w", err)
	}
	out := Sensitivity{Value: math.NaN()}
	for _, k := range []string{"name", "var", "knob"} {
		if v, ok := raw[k].(string); ok && v != "" {
			out.Name = v
			break
		}
	}
	for _, k := range []string{"dmargin_dx", "sensitivity", "grad"} {
		if v, ok := raw[k].(float64); ok {
			out.Value = v
			break
		}
	}
	*s = out
	return nil
}

// MarshalJSON writes {"name", "sensitivity"} with null for unknown values.
func (s Sensitivity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string   `json:"name"`
		Value *float64 `json:"sensitivity"`
	}{s.Name, finiteOrNil(s.Value)})
}

// Outcome is what an evaluator returns for one point.
type Outcome struct {
	OK             bool               `json:"ok"`
	Out            map[string]float64 `json:"out"`
	Message        string             `json:"message,omitempty"`
	Constraints    []Constraint       `json:"constraints,omitempty"`
	DominantInputs []Sensitivity      `json:"dominant_inputs,omitempty"`
}

// ScenarioMetrics summarizes a scenario corner cube.
type ScenarioMetrics struct {
	N               int
	Pass            int
	PassFrac        float64
	WorstHardMargin float64
}

// Direction is the objective sense.
type Direction string

const (
	Minimize Direction = "min"
	Maximize Direction = "max"
)

// ObjectiveContract is the explicit rule for ranking feasible candidates.
type ObjectiveContract struct {
	PrimaryKey         string
	Direction          Direction
	RobustnessFirst    bool
	ScenarioRobustness bool
}

// Ordering returns the ranking keys in priority order.
func (c ObjectiveContract) Ordering() []string {
	if c.RobustnessFirst {
		return []string{"worst_hard_margin", "objective"}
	}
	return []string{"objective", "worst_hard_margin"}
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nilToNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
