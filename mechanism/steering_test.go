package mechanism

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snow-ghost/feasopt/core"
)

func TestLeversPerGroup(t *testing.T) {
	names := []string{"Ip_MA", "Bt_T", "R0_m", "kappa", "f_rad_core", "tbr_min", "v_pf_max", "price"}

	assert.Equal(t, []string{"Ip_MA"}, Levers(Plasma, names))
	assert.Equal(t, []string{"Bt_T", "R0_m", "kappa"}, Levers(Magnets, names))
	assert.Equal(t, []string{"f_rad_core"}, Levers(Exhaust, names))
	assert.Equal(t, []string{"tbr_min"}, Levers(Neutronics, names))
	assert.Equal(t, []string{"v_pf_max"}, Levers(Control, names))
	assert.Empty(t, Levers(General, names))
	assert.Empty(t, Levers(Group("UNKNOWN"), names))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Plasma, Normalize(" plasma "))
	assert.Equal(t, General, Normalize(""))
}

func TestKnobOrderPriorities(t *testing.T) {
	knobs := []string{"x", "Bt_T", "y", "Ip_MA"}
	dom := []core.Sensitivity{{Name: "y", Value: 1}, {Name: "not_a_knob", Value: math.NaN()}}

	assert.Equal(t, []string{"y", "Ip_MA", "x", "Bt_T"}, KnobOrder(knobs, dom, Plasma))
	assert.Equal(t, knobs, KnobOrder(knobs, nil, General))
}
