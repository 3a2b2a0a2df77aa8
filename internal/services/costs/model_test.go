package costs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimizeRebalanceDeadZone(t *testing.T) {
	m := NewModel()
	target := map[string]float64{"AAA": 0.0501, "BBB": -0.0499}
	current := map[string]float64{"AAA": 0.05, "BBB": -0.05}
	adv := map[string]float64{"AAA": 5e6, "BBB": 5e6}

	got := m.OptimizeRebalance(target, current, adv, 1e6)
	assert.Equal(t, current, got)
}

func TestOptimizeRebalanceDegenerateADVHolds(t *testing.T) {
	m := NewModel()
	target := map[string]float64{"A": 0.2, "B": 0.2, "C": 0.2}
	current := map[string]float64{"A": 0, "B": 0, "C": 0}
	adv := map[string]float64{"A": 0, "B": math.NaN()}

	got := m.OptimizeRebalance(target, current, adv, 1e6)
	assert.Equal(t, 0.0, got["A"])
	assert.Equal(t, 0.0, got["B"])
	assert.Equal(t, 0.0, got["C"])
}

func TestOptimizeRebalanceBands(t *testing.T) {
	m := NewModel()
	current := map[string]float64{"BIG": 0, "MID": 0, "THIN": 0}
	target := map[string]float64{"BIG": 0.02, "MID": 0.002, "THIN": 0.002}
	adv := map[string]float64{"BIG": 1e3, "MID": 1e9, "THIN": 1e3}

	got := m.OptimizeRebalance(target, current, adv, 1e6)
	assert.Equal(t, 0.02, got["BIG"], "above max band always trades")
	assert.Equal(t, 0.002, got["MID"], "cheap mid-sized trade passes")

	steep := NewModel(WithImpactK(200))
	got = steep.OptimizeRebalance(target, current, adv, 1e6)
	assert.Equal(t, 0.0, got["THIN"], "impact swamps the benefit")
	assert.Equal(t, 0.002, got["MID"])
}

func TestOptimizeRebalanceIdempotent(t *testing.T) {
	m := NewModel()
	target := map[string]float64{"A": 0.03, "B": -0.004, "C": 0.0002, "D": 0.1}
	current := map[string]float64{"A": 0.01, "B": 0, "C": 0, "E": 0.02}
	adv := map[string]float64{"A": 1e7, "B": 2e6, "C": 1e7, "D": 1e8, "E": 1e7}

	first := m.OptimizeRebalance(target, current, adv, 1e6)
	second := m.OptimizeRebalance(target, current, adv, 1e6)
	assert.Equal(t, first, second)
	assert.Equal(t, 0.0, first["C"])
	assert.Equal(t, 0.0, first["E"])
	assert.Equal(t, 0.1, first["D"])
}

func TestEstimate(t *testing.T) {
	m := NewModel()
	b := m.Estimate(map[string]float64{"AAA": 0.1}, map[string]float64{"AAA": 0}, map[string]float64{"AAA": 1e7}, 1e6)

	assert.InDelta(t, 1e5, b.Notional, 1e-9)
	assert.InDelta(t, 0.1, b.Turnover, 1e-12)
	assert.Greater(t, b.Total, 0.0)
	assert.Greater(t, b.TotalBps, 0.0)
	assert.Less(t, b.TotalBps, 100.0)
	assert.InDelta(t, b.Commission+b.Spread+b.Impact+b.Timing, b.Total, 1e-9)
	// impact = 1e5 * 0.9 * sqrt(0.01) / 1e4
	assert.InDelta(t, 0.9, b.Impact, 1e-9)
}
