// Package config loads and validates run configurations.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/mechanism"
	"github.com/snow-ghost/feasopt/scenario"
)

// ErrInvalid marks configuration errors.
var ErrInvalid = errors.New("invalid config")

// Strategy names a search strategy.
type Strategy string

const (
	Random             Strategy = "random"
	ScanSeededPattern  Strategy = "scan_seeded_pattern"
	BoundaryTrace      Strategy = "boundary_trace"
	BoundaryTraceMulti Strategy = "boundary_trace_multi"
)

// NoIsland is the island id of seeds without one.
const NoIsland = "none"

// Seed is a starting point, optionally tagged with an island id in its
// _seed_meta block.
type Seed struct {
	Inputs   core.Point
	IslandID string
}

// Island returns the seed's island id, "none" when untagged.
func (s Seed) Island() string {
	if s.IslandID == "" {
		return NoIsland
	}
	return s.IslandID
}

// UnmarshalYAML keeps numeric entries and reads _seed_meta.island_id.
// Non-numeric entries are ignored.
func (s *Seed) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("seed must be a mapping, got line %d", node.Line)
	}
	out := Seed{Inputs: core.Point{}}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		if key == "_seed_meta" {
			var meta map[string]yaml.Node
			if err := val.Decode(&meta); err != nil {
				return fmt.Errorf("_seed_meta: %w", err)
			}
			if id, ok := meta["island_id"]; ok && id.Kind == yaml.ScalarNode && id.Tag != "!!null" {
				out.IslandID = id.Value
			}
			continue
		}
		if val.Kind != yaml.ScalarNode {
			continue
		}
		v, err := strconv.ParseFloat(val.Value, 64)
		if err != nil {
			continue
		}
		out.Inputs[key] = v
	}
	*s = out
	return nil
}

// MarshalJSON writes the inputs plus _seed_meta when tagged.
func (s Seed) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Inputs)+1)
	for k, v := range s.Inputs {
		if core.IsFinite(v) {
			m[k] = v
		}
	}
	if s.IslandID != "" {
		m["_seed_meta"] = map[string]string{"island_id": s.IslandID}
	}
	return json.Marshal(m)
}

// Run is a validated, immutable run configuration.
type Run struct {
	Schema              string                 `json:"schema"`
	N                   int                    `json:"n"`
	Seed                int64                  `json:"seed"`
	Tag                 string                 `json:"tag,omitempty"`
	Objective           string                 `json:"objective"`
	ObjectiveDirection  core.Direction         `json:"objective_direction"`
	ObjectiveContract   map[string]any         `json:"objective_contract,omitempty"`
	Policy              core.PolicyMode        `json:"policy"`
	Strategy            Strategy               `json:"strategy"`
	Bounds              core.Bounds            `json:"bounds"`
	Fixed               core.Point             `json:"fixed"`
	Caps                core.Point             `json:"caps"`
	Seeds               []Seed                 `json:"seeds"`
	SeedSource          map[string]any         `json:"seed_source"`
	OrchestratorJobID   string                 `json:"orchestrator_job_id,omitempty"`
	RobustnessFirst     bool                   `json:"robustness_first"`
	ConstraintAware     bool                   `json:"constraint_aware"`
	MultiIsland         bool                   `json:"multi_island"`
	HybridGuidance      bool                   `json:"hybrid_guidance"`
	SurrogateGuidance   bool                   `json:"surrogate_guidance"`
	SensitivityStep     bool                   `json:"sensitivity_step"`
	SensStepFrac        float64                `json:"sens_step_frac"`
	MechanismClassifier bool                   `json:"mechanism_classifier"`
	MechMinPos          int                    `json:"mech_min_pos"`
	MechMinNeg          int                    `json:"mech_min_neg"`
	MechBatch           int                    `json:"mech_batch"`
	MechanismSwitchMode mechanism.SwitchMode   `json:"mechanism_switch_mode"`
	ScenarioRobustness  bool                   `json:"scenario_robustness"`
	ScenarioMax         int                    `json:"scenario_max"`
	ScenarioFactors     scenario.Factors       `json:"scenario_factors"`
	BoundarySteps       int                    `json:"boundary_steps"`
	BoundaryTol         float64                `json:"boundary_tol"`
	BoundaryStepFrac    float64                `json:"boundary_step_frac"`
	CacheSize           int                    `json:"cache_size"`
	Guard               *evaluator.GuardConfig `json:"guard,omitempty"`
}

// Contract is the ranking rule the run was configured with.
func (r *Run) Contract() core.ObjectiveContract {
	return core.ObjectiveContract{
		PrimaryKey:         r.Objective,
		Direction:          r.ObjectiveDirection,
		RobustnessFirst:    r.RobustnessFirst,
		ScenarioRobustness: r.ScenarioRobustness,
	}
}

// ScenarioEnabled reports whether candidates get scenario metrics.
func (r *Run) ScenarioEnabled() bool {
	return r.ScenarioRobustness && len(r.ScenarioFactors) > 0
}

// Hash is the hex SHA-256 of the canonical JSON encoding of r.
func (r *Run) Hash() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("canonical config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
