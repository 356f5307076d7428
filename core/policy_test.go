package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCandidate(t *testing.T) {
	hardFail := []Constraint{{Name: "q95", Severity: "hard", Passed: false, Margin: -0.1}}
	diagFail := []Constraint{
		{Name: "q95", Severity: "hard", Passed: true, Margin: 0.2},
		{Name: "tbr_diag", Severity: "diagnostic", Passed: false, Margin: -0.3},
	}
	allPass := []Constraint{{Name: "q95", Severity: "hard", Passed: true, Margin: 0.2}}

	assert.False(t, IsCandidate(StrictPass, hardFail))
	assert.False(t, IsCandidate(PassPlusDiag, hardFail))
	assert.False(t, IsCandidate(StrictPass, diagFail))
	assert.True(t, IsCandidate(PassPlusDiag, diagFail))
	assert.True(t, IsCandidate(StrictPass, allPass))
	assert.True(t, IsCandidate(StrictPass, nil))
}

func TestDominantFailureMostNegativeHardWins(t *testing.T) {
	cs := []Constraint{
		{Name: "diag", Severity: "diagnostic", Passed: false, Margin: -9, MechanismGroup: "CONTROL"},
		{Name: "beta", Severity: "hard", Passed: false, Margin: -0.2, MechanismGroup: "PLASMA"},
		{Name: "bpeak", Severity: "hard", Passed: false, Margin: -0.7, MechanismGroup: "MAGNETS"},
		{Name: "bpeak2", Severity: "hard", Passed: false, Margin: -0.7, MechanismGroup: "EXHAUST"},
		{Name: "ok", Severity: "hard", Passed: true, Margin: -5},
	}
	assert.Equal(t, "bpeak", DominantConstraint(cs))
	assert.Equal(t, "MAGNETS", DominantMechanism(cs))
}

func TestDominantFailureFallbacks(t *testing.T) {
	diagOnly := []Constraint{
		{Name: "a", Severity: "hard", Passed: true, Margin: 1},
		{Name: "d1", Severity: "diagnostic", Passed: false, Margin: -1},
		{Name: "d2", Severity: "diagnostic", Passed: false, Margin: -3, MechanismGroup: "EXHAUST"},
	}
	assert.Equal(t, "d1", DominantConstraint(diagOnly))
	assert.Equal(t, GeneralGroup, DominantMechanism(diagOnly))

	nanHard := []Constraint{{Name: "h", Severity: "hard", Passed: false, Margin: math.NaN(), MechanismGroup: "PLASMA"}}
	assert.Equal(t, "h", DominantConstraint(nanHard))
	assert.Equal(t, "PLASMA", DominantMechanism(nanHard))

	none := []Constraint{{Name: "a", Severity: "hard", Passed: true, Margin: 1}}
	assert.Equal(t, NoneFailing, DominantConstraint(none))
	assert.Equal(t, NoneFailing, DominantMechanism(none))
}

func TestWorstHardMargin(t *testing.T) {
	cs := []Constraint{
		{Name: "a", Severity: "hard", Passed: true, Margin: 0.4},
		{Name: "b", Severity: "hard", Passed: true, Margin: 0.1},
		{Name: "d", Severity: "diagnostic", Passed: false, Margin: -3},
		{Name: "c", Severity: "hard", Passed: true, Margin: math.NaN()},
	}
	assert.Equal(t, 0.1, WorstHardMargin(cs))
	assert.True(t, math.IsNaN(WorstHardMargin([]Constraint{{Severity: "diagnostic", Margin: 1}})))
	assert.Equal(t, 0, HardFailures(cs))
}

func TestComparatorObjectiveDirection(t *testing.T) {
	lo := &Record{Objective: 1, WorstHardMargin: 0.5}
	hi := &Record{Objective: 2, WorstHardMargin: 0.1}
	nan := &Record{Objective: math.NaN(), WorstHardMargin: 0.9}

	maxc := NewComparator(ObjectiveContract{Direction: Maximize})
	assert.True(t, maxc.Better(hi, lo))
	assert.False(t, maxc.Better(lo, hi))
	assert.True(t, maxc.Better(lo, nan))
	assert.False(t, maxc.Better(nan, lo))

	minc := NewComparator(ObjectiveContract{Direction: Minimize})
	assert.True(t, minc.Better(lo, hi))
	assert.True(t, minc.Better(hi, nan))
	assert.False(t, minc.Better(lo, lo))
}

func TestComparatorRobustnessFirst(t *testing.T) {
	c := NewComparator(ObjectiveContract{Direction: Maximize, RobustnessFirst: true})
	robust := &Record{Objective: 1, WorstHardMargin: 0.5}
	greedy := &Record{Objective: 10, WorstHardMargin: 0.1}
	unknown := &Record{Objective: 50, WorstHardMargin: math.NaN()}

	assert.True(t, c.Better(robust, greedy))
	assert.True(t, c.Better(greedy, unknown))
	assert.True(t, c.Better(&Record{Objective: 2, WorstHardMargin: 0.5}, robust), "objective breaks margin ties")
}

func TestComparatorScenarioFirst(t *testing.T) {
	c := NewComparator(ObjectiveContract{Direction: Maximize, ScenarioRobustness: true})
	a := &Record{Objective: 1, Scenario: &ScenarioMetrics{PassFrac: 1, WorstHardMargin: 0.1}}
	b := &Record{Objective: 9, Scenario: &ScenarioMetrics{PassFrac: 0.5, WorstHardMargin: 0.9}}
	d := &Record{Objective: 3, Scenario: &ScenarioMetrics{PassFrac: 1, WorstHardMargin: 0.2}}
	noScenario := &Record{Objective: 100}

	assert.True(t, c.Better(a, b))
	assert.True(t, c.Better(d, a))
	assert.True(t, c.Better(noScenario, a), "scenario step needs metrics on both sides")
	assert.True(t, c.Better(&Record{Objective: 2, Scenario: &ScenarioMetrics{PassFrac: 1, WorstHardMargin: 0.1}}, a))
}

func TestComparatorTransitivity(t *testing.T) {
	contracts := []ObjectiveContract{
		{Direction: Maximize},
		{Direction: Minimize},
		{Direction: Maximize, RobustnessFirst: true},
		{Direction: Minimize, RobustnessFirst: true, ScenarioRobustness: true},
	}
	rng := rand.New(rand.NewSource(7))
	values := []float64{-1, 0, 0.5, 1, math.NaN(), math.Inf(1)}
	pick := func() float64 { return values[rng.Intn(len(values))] }

	records := make([]*Record, 40)
	for i := range records {
		records[i] = &Record{Objective: pick(), WorstHardMargin: pick()}
		if rng.Intn(2) == 0 {
			records[i].Scenario = &ScenarioMetrics{PassFrac: pick(), WorstHardMargin: pick()}
		}
	}

	for _, contract := range contracts {
		c := NewComparator(contract)
		for _, a := range records {
			require.False(t, c.Better(a, a))
			for _, b := range records {
				for _, d := range records {
					// Scenario comparisons only apply when all three carry metrics.
					if contract.ScenarioRobustness && (a.Scenario == nil) != (b.Scenario == nil) {
						continue
					}
					if contract.ScenarioRobustness && (b.Scenario == nil) != (d.Scenario == nil) {
						continue
					}
					if c.Better(a, b) && c.Better(b, d) {
						assert.True(t, c.Better(a, d))
					}
				}
			}
		}
	}
}
