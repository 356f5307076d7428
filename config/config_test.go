package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/mechanism"
)

const minimal = `
schema: extopt_config.v1
bounds:
  Ip_MA: [5, 20]
  Bt_T: [3, 8]
`

func TestParseDefaults(t *testing.T) {
	r, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 200, r.N)
	assert.Equal(t, int64(0), r.Seed)
	assert.Equal(t, "P_net_MW", r.Objective)
	assert.Equal(t, core.Maximize, r.ObjectiveDirection)
	assert.Equal(t, core.StrictPass, r.Policy)
	assert.Equal(t, Random, r.Strategy)
	assert.Equal(t, []string{"Ip_MA", "Bt_T"}, r.Bounds.Names())

	assert.True(t, r.SensitivityStep)
	assert.True(t, r.ConstraintAware)
	assert.True(t, r.SurrogateGuidance)
	assert.True(t, r.MultiIsland)
	assert.False(t, r.RobustnessFirst)
	assert.False(t, r.MechanismClassifier)
	assert.False(t, r.HybridGuidance)
	assert.Equal(t, 0.05, r.SensStepFrac)
	assert.Equal(t, 64, r.MechBatch)
	assert.Equal(t, 10, r.MechMinPos)
	assert.Equal(t, mechanism.Neutral, r.MechanismSwitchMode)
	assert.Equal(t, 16, r.ScenarioMax)
	assert.Equal(t, 30, r.BoundarySteps)
	assert.Equal(t, 0.02, r.BoundaryTol)
	assert.Equal(t, 0.05, r.BoundaryStepFrac)
	assert.NotNil(t, r.Fixed)
	assert.NotNil(t, r.Seeds)
	assert.False(t, r.ScenarioEnabled())
}

func TestParseJSON(t *testing.T) {
	r, err := Parse([]byte(`{"schema":"feasible_opt.v1","n":50,"seed":7,"objective":"CAPEX_$",
		"bounds":{"x":[0,10],"y":[0,10]},"fixed":{"z":1.5},"policy":"pass_plus_diag"}`))
	require.NoError(t, err)
	assert.Equal(t, 50, r.N)
	assert.Equal(t, int64(7), r.Seed)
	assert.Equal(t, core.Minimize, r.ObjectiveDirection)
	assert.Equal(t, core.PassPlusDiag, r.Policy)
	assert.Equal(t, core.Point{"z": 1.5}, r.Fixed)
	assert.Equal(t, []string{"x", "y"}, r.Bounds.Names())
}

func TestHybridGuidanceForcesFlags(t *testing.T) {
	r, err := Parse([]byte(minimal + `
hybrid_guidance: true
sensitivity_step: false
surrogate_guidance: false
mechanism_classifier: false
`))
	require.NoError(t, err)
	assert.True(t, r.SensitivityStep)
	assert.True(t, r.SurrogateGuidance)
	assert.True(t, r.ConstraintAware)
	assert.True(t, r.MechanismClassifier)
}

func TestObjectiveContractV2(t *testing.T) {
	r, err := Parse([]byte(minimal + `
objective_contract:
  schema: objective_contract.v2
  primary: {key: recirc_frac, direction: max}
  ordering: [worst_hard_margin, objective]
`))
	require.NoError(t, err)
	assert.Equal(t, "recirc_frac", r.Objective)
	assert.Equal(t, core.Maximize, r.ObjectiveDirection)
	assert.True(t, r.RobustnessFirst)
	assert.True(t, r.Contract().RobustnessFirst)
	assert.Equal(t, []string{"worst_hard_margin", "objective"}, r.Contract().Ordering())
}

func TestObjectiveContractV3(t *testing.T) {
	r, err := Parse([]byte(minimal + `
objective_direction: max
robustness_first: false
objective_contract:
  schema: objective_contract.v3
  objectives:
    - {key: CAPEX_$, sense: min}
  selection:
    ordering: [worst_hard_margin, objective]
`))
	require.NoError(t, err)
	assert.Equal(t, "CAPEX_$", r.Objective)
	assert.Equal(t, core.Maximize, r.ObjectiveDirection, "explicit direction wins over the contract")
	assert.False(t, r.RobustnessFirst, "explicit robustness_first wins over the contract ordering")
}

func TestObjectiveContractDirectionDefault(t *testing.T) {
	r, err := Parse([]byte(minimal + `
objective_contract:
  schema: objective_contract.v3
  objectives: [{key: CAPEX_$}]
`))
	require.NoError(t, err)
	assert.Equal(t, core.Minimize, r.ObjectiveDirection)
	assert.False(t, r.RobustnessFirst)
}

func TestSeedsDecoding(t *testing.T) {
	r, err := Parse([]byte(minimal + `
strategy: scan_seeded_pattern
seeds:
  - {Ip_MA: 10, Bt_T: 5, label: ignored, _seed_meta: {island_id: 3}}
  - {Ip_MA: 12}
`))
	require.NoError(t, err)
	require.Len(t, r.Seeds, 2)
	assert.Equal(t, core.Point{"Ip_MA": 10, "Bt_T": 5}, r.Seeds[0].Inputs)
	assert.Equal(t, "3", r.Seeds[0].Island())
	assert.Equal(t, NoIsland, r.Seeds[1].Island())

	raw, err := json.Marshal(r.Seeds[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ip_MA":10,"Bt_T":5,"_seed_meta":{"island_id":"3"}}`, string(raw))
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"schema":             "schema: other.v9\nbounds: {x: [0, 1]}",
		"n zero":             "n: 0\nbounds: {x: [0, 1]}",
		"n huge":             "n: 500001\nbounds: {x: [0, 1]}",
		"policy":             "policy: lenient\nbounds: {x: [0, 1]}",
		"strategy":           "strategy: annealing\nbounds: {x: [0, 1]}",
		"direction":          "objective_direction: up\nbounds: {x: [0, 1]}",
		"no bounds":          "n: 5",
		"empty interval":     "bounds: {x: [1, 1]}",
		"bad pair":           "bounds: {x: [1, 2, 3]}",
		"sens_step_frac":     "sens_step_frac: 0.6\nbounds: {x: [0, 1]}",
		"mech_batch":         "mech_batch: 4\nbounds: {x: [0, 1]}",
		"mech_min_pos":       "mech_min_pos: 2\nbounds: {x: [0, 1]}",
		"mech_min_neg":       "mech_min_neg: 2000\nbounds: {x: [0, 1]}",
		"switch mode":        "mechanism_switch_mode: chaotic\nbounds: {x: [0, 1]}",
		"scenario_max":       "scenario_max: 0\nbounds: {x: [0, 1]}",
		"scenario factor":    "scenario_factors: {x: [0, 1.1]}\nbounds: {x: [0, 1]}",
		"scenario pair":      "scenario_factors: {x: [0.9]}\nbounds: {x: [0, 1]}",
		"boundary_steps":     "boundary_steps: 0\nbounds: {x: [0, 1]}",
		"boundary_tol":       "boundary_tol: 0\nbounds: {x: [0, 1]}",
		"boundary_step_frac": "boundary_step_frac: 0.75\nbounds: {x: [0, 1]}",
		"guard cooldown":     "guard: {max_consecutive_failures: 3, cooldown_calls: -1}\nbounds: {x: [0, 1]}",
		"contract sense":     "objective_contract: {schema: objective_contract.v3, objectives: [{key: a, sense: up}]}\nbounds: {x: [0, 1]}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestGuardDecoding(t *testing.T) {
	cfg, err := Parse([]byte("guard: {name: model, max_consecutive_failures: 3, cooldown_calls: 10}\nbounds: {x: [0, 1]}"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Guard)
	assert.Equal(t, "model", cfg.Guard.Name)
	assert.Equal(t, uint32(3), cfg.Guard.MaxFailures)
	assert.Equal(t, 10, cfg.Guard.CooldownCalls)

	cfg, err = Parse([]byte("bounds: {x: [0, 1]}"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Guard, "no guard unless configured")
}

func TestScenarioEnabled(t *testing.T) {
	r, err := Parse([]byte(minimal + `
scenario_robustness: true
scenario_max: 4
scenario_factors: {Ip_MA: [0.9, 1.1]}
`))
	require.NoError(t, err)
	assert.True(t, r.ScenarioEnabled())
	assert.Equal(t, [2]float64{0.9, 1.1}, r.ScenarioFactors["Ip_MA"])
	assert.True(t, r.Contract().ScenarioRobustness)
}

func TestHashIsStable(t *testing.T) {
	a, err := Parse([]byte(minimal + "seed: 3\n"))
	require.NoError(t, err)
	b, err := Parse([]byte(minimal + "seed: 3\n"))
	require.NoError(t, err)
	c, err := Parse([]byte(minimal + "seed: 4\n"))
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, _ := b.Hash()
	hc, _ := c.Hash()
	assert.Len(t, ha, 64)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))
	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "extopt_config.v1", r.Schema)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FEASOPT_RUNS_ROOT", "/tmp/packs")
	t.Setenv("FEASOPT_LOG_LEVEL", "debug")
	e, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/packs", e.RunsRoot)
	assert.Equal(t, "debug", e.LogLevel)
	assert.Equal(t, "console", e.LogFormat)
	assert.Empty(t, e.LedgerPath)
}
