package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/mechanism"
	"github.com/snow-ghost/feasopt/scenario"
)

// Accepted top-level schemas. An empty schema is accepted too.
var schemas = map[string]bool{
	"extopt_config.v1":   true,
	"extopt_config.v251": true,
	"feasible_opt.v1":    true,
}

// file is the on-disk shape. Pointers distinguish absent keys from zero
// values so defaults can be applied.
type file struct {
	Schema              string                 `yaml:"schema"`
	N                   *int                   `yaml:"n"`
	Seed                *int64                 `yaml:"seed"`
	Tag                 string                 `yaml:"tag"`
	Objective           string                 `yaml:"objective"`
	ObjectiveDirection  string                 `yaml:"objective_direction"`
	ObjectiveContract   map[string]any         `yaml:"objective_contract"`
	Policy              string                 `yaml:"policy"`
	Strategy            string                 `yaml:"strategy"`
	Bounds              core.Bounds            `yaml:"bounds"`
	Fixed               map[string]float64     `yaml:"fixed"`
	Caps                map[string]float64     `yaml:"caps"`
	Seeds               []Seed                 `yaml:"seeds"`
	SeedSource          map[string]any         `yaml:"seed_source"`
	OrchestratorJobID   string                 `yaml:"orchestrator_job_id"`
	RobustnessFirst     *bool                  `yaml:"robustness_first"`
	ConstraintAware     *bool                  `yaml:"constraint_aware"`
	MultiIsland         *bool                  `yaml:"multi_island"`
	HybridGuidance      *bool                  `yaml:"hybrid_guidance"`
	SurrogateGuidance   *bool                  `yaml:"surrogate_guidance"`
	SensitivityStep     *bool                  `yaml:"sensitivity_step"`
	SensStepFrac        *float64               `yaml:"sens_step_frac"`
	MechanismClassifier *bool                  `yaml:"mechanism_classifier"`
	MechMinPos          *int                   `yaml:"mech_min_pos"`
	MechMinNeg          *int                   `yaml:"mech_min_neg"`
	MechBatch           *int                   `yaml:"mech_batch"`
	MechanismSwitchMode string                 `yaml:"mechanism_switch_mode"`
	ScenarioRobustness  *bool                  `yaml:"scenario_robustness"`
	ScenarioMax         *int                   `yaml:"scenario_max"`
	ScenarioFactors     map[string][]float64   `yaml:"scenario_factors"`
	BoundarySteps       *int                   `yaml:"boundary_steps"`
	BoundaryTol         *float64               `yaml:"boundary_tol"`
	BoundaryStepFrac    *float64               `yaml:"boundary_step_frac"`
	CacheSize           *int                   `yaml:"cache_size"`
	Guard               *evaluator.GuardConfig `yaml:"guard"`
}

// Load reads and validates a run configuration from a YAML or JSON file.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	run, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return run, nil
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Run, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return f.resolve()
}

func (f *file) resolve() (*Run, error) {
	if f.Schema != "" && !schemas[f.Schema] {
		return nil, invalid("unsupported schema %q", f.Schema)
	}
	r := &Run{
		Schema:              f.Schema,
		N:                   intOr(f.N, 200),
		Tag:                 f.Tag,
		Objective:           strings.TrimSpace(f.Objective),
		ObjectiveContract:   f.ObjectiveContract,
		Bounds:              f.Bounds,
		Fixed:               core.Point(f.Fixed),
		Caps:                core.Point(f.Caps),
		Seeds:               f.Seeds,
		SeedSource:          f.SeedSource,
		OrchestratorJobID:   f.OrchestratorJobID,
		ConstraintAware:     boolOr(f.ConstraintAware, true),
		MultiIsland:         boolOr(f.MultiIsland, true),
		HybridGuidance:      boolOr(f.HybridGuidance, false),
		SurrogateGuidance:   boolOr(f.SurrogateGuidance, true),
		SensitivityStep:     boolOr(f.SensitivityStep, true),
		SensStepFrac:        floatOr(f.SensStepFrac, 0.05),
		MechanismClassifier: boolOr(f.MechanismClassifier, false),
		MechMinPos:          intOr(f.MechMinPos, 10),
		MechMinNeg:          intOr(f.MechMinNeg, 10),
		MechBatch:           intOr(f.MechBatch, 64),
		ScenarioRobustness:  boolOr(f.ScenarioRobustness, false),
		ScenarioMax:         intOr(f.ScenarioMax, scenario.DefaultMax),
		BoundarySteps:       intOr(f.BoundarySteps, 30),
		BoundaryTol:         floatOr(f.BoundaryTol, 0.02),
		BoundaryStepFrac:    floatOr(f.BoundaryStepFrac, 0.05),
		CacheSize:           intOr(f.CacheSize, evaluator.DefaultCacheSize),
		Guard:               f.Guard,
	}
	if f.Seed != nil {
		r.Seed = *f.Seed
	}
	if r.Objective == "" {
		r.Objective = "P_net_MW"
	}
	if r.Fixed == nil {
		r.Fixed = core.Point{}
	}
	if r.Caps == nil {
		r.Caps = core.Point{}
	}
	if r.Seeds == nil {
		r.Seeds = []Seed{}
	}
	if r.SeedSource == nil {
		r.SeedSource = map[string]any{}
	}

	contractDir := ""
	var orderingFirst *bool
	if f.ObjectiveContract != nil {
		c, err := parseContract(f.ObjectiveContract)
		if err != nil {
			return nil, err
		}
		if c.key != "" {
			r.Objective = c.key
		}
		contractDir = c.direction
		orderingFirst = c.robustnessFirst
	}

	dir := strings.ToLower(strings.TrimSpace(f.ObjectiveDirection))
	if dir == "" {
		dir = contractDir
	}
	switch dir {
	case "":
		r.ObjectiveDirection = DefaultDirection(r.Objective)
	case string(core.Minimize), string(core.Maximize):
		r.ObjectiveDirection = core.Direction(dir)
	default:
		return nil, invalid("objective_direction must be min or max, got %q", dir)
	}

	switch {
	case f.RobustnessFirst != nil:
		r.RobustnessFirst = *f.RobustnessFirst
	case orderingFirst != nil:
		r.RobustnessFirst = *orderingFirst
	}

	if r.HybridGuidance {
		r.SensitivityStep = true
		r.ConstraintAware = true
		r.SurrogateGuidance = true
		r.MechanismClassifier = true
	}

	policy := strings.TrimSpace(f.Policy)
	if policy == "" {
		policy = string(core.StrictPass)
	}
	mode, err := core.ParsePolicyMode(policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	r.Policy = mode

	strategy := Strategy(strings.TrimSpace(f.Strategy))
	if strategy == "" {
		strategy = Random
	}
	r.Strategy = strategy

	sm, err := mechanism.ParseSwitchMode(strings.ToLower(strings.TrimSpace(f.MechanismSwitchMode)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	r.MechanismSwitchMode = sm

	if len(f.ScenarioFactors) > 0 {
		r.ScenarioFactors = make(scenario.Factors, len(f.ScenarioFactors))
		for k, v := range f.ScenarioFactors {
			if len(v) != 2 {
				return nil, invalid("scenario_factors[%s] must be [lo, hi]", k)
			}
			r.ScenarioFactors[k] = [2]float64{v[0], v[1]}
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultDirection is the objective sense used when neither the config nor
// its contract names one.
func DefaultDirection(objective string) core.Direction {
	switch objective {
	case "CAPEX_$", "recirc_frac":
		return core.Minimize
	default:
		return core.Maximize
	}
}

type contract struct {
	key             string
	direction       string
	robustnessFirst *bool
}

// parseContract reads objective_contract.v2 and .v3 documents. Other
// schemas are kept verbatim but do not affect the run.
func parseContract(m map[string]any) (contract, error) {
	var c contract
	schema := strings.TrimSpace(str(m["schema"]))
	var ordering any
	switch schema {
	case "objective_contract.v3":
		if objs, ok := m["objectives"].([]any); ok && len(objs) > 0 {
			if o0, ok := objs[0].(map[string]any); ok {
				c.key = strings.TrimSpace(str(o0["key"]))
				c.direction = strings.ToLower(strings.TrimSpace(str(o0["sense"])))
			}
		}
		if sel, ok := m["selection"].(map[string]any); ok {
			ordering = sel["ordering"]
		}
	case "objective_contract.v2":
		if prim, ok := m["primary"].(map[string]any); ok {
			c.key = strings.TrimSpace(str(prim["key"]))
			c.direction = strings.ToLower(strings.TrimSpace(str(prim["direction"])))
			if c.direction == "" {
				c.direction = strings.ToLower(strings.TrimSpace(str(prim["sense"])))
			}
		}
		ordering = m["ordering"]
	default:
		return c, nil
	}
	if c.direction != "" && c.direction != "min" && c.direction != "max" {
		return c, invalid("objective_contract direction must be min or max, got %q", c.direction)
	}
	if list, ok := ordering.([]any); ok {
		margin, objective := -1, -1
		for i, v := range list {
			switch str(v) {
			case "worst_hard_margin":
				if margin < 0 {
					margin = i
				}
			case "objective":
				if objective < 0 {
					objective = i
				}
			}
		}
		if margin >= 0 && objective >= 0 {
			first := margin < objective
			c.robustnessFirst = &first
		}
	}
	return c, nil
}

// Validate checks ranges and enumerations.
func (r *Run) Validate() error {
	if r.Schema != "" && !schemas[r.Schema] {
		return invalid("unsupported schema %q", r.Schema)
	}
	if r.N < 1 || r.N > 500000 {
		return invalid("n out of range [1, 500000]: %d", r.N)
	}
	if _, err := core.ParsePolicyMode(string(r.Policy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch r.Strategy {
	case Random, ScanSeededPattern, BoundaryTrace, BoundaryTraceMulti:
	default:
		return invalid("strategy must be random, scan_seeded_pattern, boundary_trace, or boundary_trace_multi, got %q", r.Strategy)
	}
	if r.ObjectiveDirection != core.Minimize && r.ObjectiveDirection != core.Maximize {
		return invalid("objective_direction must be min or max")
	}
	if err := r.Bounds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if r.SensStepFrac <= 0 || r.SensStepFrac > 0.5 {
		return invalid("sens_step_frac out of range (0, 0.5]: %g", r.SensStepFrac)
	}
	if r.MechBatch < 8 || r.MechBatch > 4096 {
		return invalid("mech_batch out of range [8, 4096]: %d", r.MechBatch)
	}
	if r.MechMinPos < 5 || r.MechMinPos > 1000 {
		return invalid("mech_min_pos out of range [5, 1000]: %d", r.MechMinPos)
	}
	if r.MechMinNeg < 5 || r.MechMinNeg > 1000 {
		return invalid("mech_min_neg out of range [5, 1000]: %d", r.MechMinNeg)
	}
	if r.ScenarioMax < 1 || r.ScenarioMax > 128 {
		return invalid("scenario_max out of range [1, 128]: %d", r.ScenarioMax)
	}
	if err := r.ScenarioFactors.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if r.BoundarySteps < 1 || r.BoundarySteps > 10000 {
		return invalid("boundary_steps out of range [1, 10000]: %d", r.BoundarySteps)
	}
	if r.BoundaryTol <= 0 || r.BoundaryTol > 1 {
		return invalid("boundary_tol out of range (0, 1]: %g", r.BoundaryTol)
	}
	if r.BoundaryStepFrac <= 0 || r.BoundaryStepFrac > 0.5 {
		return invalid("boundary_step_frac out of range (0, 0.5]: %g", r.BoundaryStepFrac)
	}
	if r.CacheSize < 0 {
		return invalid("cache_size must not be negative: %d", r.CacheSize)
	}
	if g := r.Guard; g != nil && (g.CooldownCalls < 0 || g.RatePerSecond < 0 || g.Burst < 0) {
		return invalid("guard settings must not be negative")
	}
	for k, v := range r.Fixed {
		if math.IsNaN(v) {
			return invalid("fixed[%s] is NaN", k)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
