package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/testutil"
)

func TestClampBeta(t *testing.T) {
	w := map[string]float64{"A": 0.1, "B": -0.1, "C": 0.2}
	betas := map[string]float64{"A": 1.2, "B": 0.8, "C": 1.5}

	out := ClampBeta(w, betas, 0.05)
	assert.LessOrEqual(t, math.Abs(PortfolioBeta(out, betas)), 0.051)

	small := map[string]float64{"A": 0.01}
	assert.Equal(t, small, ClampBeta(small, betas, 0.05))
}

func TestClampBetaDefaultsMissingBeta(t *testing.T) {
	out := ClampBeta(map[string]float64{"X": 0.3, "Y": 0.1}, nil, 0.05)
	assert.InDelta(t, 0, out["X"]+out["Y"], 1e-12)
}

func TestSectorNeutralizeSumsToZero(t *testing.T) {
	w := map[string]float64{"A1": 0.3, "A2": -0.1, "A3": 0.05, "B1": 0.2, "B2": 0.4, "U": 0.7}
	sectors := map[string]string{"A1": "A", "A2": "A", "A3": "A", "B1": "B", "B2": "B"}

	out := SectorNeutralize(w, sectors)
	assert.InDelta(t, 0, out["A1"]+out["A2"]+out["A3"], 1e-9)
	assert.InDelta(t, 0, out["B1"]+out["B2"], 1e-9)
	assert.InDelta(t, 0, out["U"], 1e-12)
}

func TestMaxWeightClip(t *testing.T) {
	out := MaxWeightClip(map[string]float64{"A": 0.3, "B": -0.02, "C": 0.01}, 0.05)
	assert.Equal(t, 0.05, out["A"])
	assert.Equal(t, -0.02, out["B"])

	wide := make(map[string]float64)
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p", "q", "r", "s", "t", "u", "v"} {
		wide[s] = 0.5
	}
	out = MaxWeightClip(wide, 0.05)
	var gross float64
	for _, v := range out {
		gross += math.Abs(v)
	}
	assert.InDelta(t, 1, gross, 1e-12)
}

func TestApplyConstraintsHonorsLimits(t *testing.T) {
	w := map[string]float64{"A1": 0.04, "A2": -0.01, "B1": 0.03, "B2": -0.02, "B3": 0.01}
	sectors := map[string]string{"A1": "A", "A2": "A", "B1": "B", "B2": "B", "B3": "B"}
	betas := map[string]float64{"A1": 1.4, "A2": 0.7, "B1": 1.1, "B2": 0.9, "B3": 1.0}
	cfg := DefaultConstraintConfig()
	cfg.MaxNameWeight = 0.02

	out := ApplyConstraints(w, cfg, sectors, betas)
	for s, v := range out {
		assert.LessOrEqual(t, math.Abs(v), 0.02+1e-12, s)
	}
}

func TestCombineSleeves(t *testing.T) {
	out := CombineSleeves(map[string]float64{"A": 0.2, "B": -0.1}, map[string]float64{"A": 0.1, "C": 0.1})
	assert.InDelta(t, 0.6, out["A"], 1e-12)
	assert.InDelta(t, -0.2, out["B"], 1e-12)
	assert.InDelta(t, 0.2, out["C"], 1e-12)
}

func TestEqualRiskContributionConverges(t *testing.T) {
	covs := map[string]*mat.SymDense{
		"diagonal": mat.NewSymDense(3, []float64{
			0.04, 0, 0,
			0, 0.01, 0,
			0, 0, 0.09,
		}),
		"correlated": mat.NewSymDense(4, []float64{
			0.040, 0.018, 0.012, 0.006,
			0.018, 0.090, 0.027, 0.009,
			0.012, 0.027, 0.025, 0.004,
			0.006, 0.009, 0.004, 0.010,
		}),
		"near collinear": mat.NewSymDense(3, []float64{
			1.00, 0.95, 0.90,
			0.95, 1.00, 0.92,
			0.90, 0.92, 1.00,
		}),
	}
	for name, cov := range covs {
		t.Run(name, func(t *testing.T) {
			w := EqualRiskContribution(cov, 100, 0)
			rc := RiskContributions(cov, w)
			var mean, sum float64
			for i, v := range rc {
				mean += v
				sum += w[i]
			}
			mean /= float64(len(rc))
			assert.InDelta(t, 1, sum, 1e-12)
			for _, v := range rc {
				assert.InDelta(t, mean, v, 0.01*mean)
			}
		})
	}
}

func TestRiskParityWeights(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{0.04, 0, 0, 0.01})
	w := RiskParityWeights(cov)
	assert.InDelta(t, 0.2, w[0], 1e-12)
	assert.InDelta(t, 0.8, w[1], 1e-12)
}

func returnsFrame(n int, series map[string]func(i int) float64) *models.Frame {
	dates := testutil.BusinessDays(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), n)
	syms := make([]string, 0, len(series))
	for _, s := range []string{"A", "B", "C"} {
		if _, ok := series[s]; ok {
			syms = append(syms, s)
		}
	}
	f := models.NewFrame(dates, syms)
	for i := range dates {
		for _, s := range syms {
			f.Set(i, s, series[s](i))
		}
	}
	return f
}

func TestInverseVolWeights(t *testing.T) {
	alt := func(scale float64) func(int) float64 {
		return func(i int) float64 {
			if i%2 == 0 {
				return scale
			}
			return -scale
		}
	}
	f := returnsFrame(70, map[string]func(int) float64{
		"A": alt(0.01),
		"B": alt(0.02),
		"C": func(int) float64 { return 0 },
	})

	w := InverseVolWeights(f, 0.85)
	assert.InDelta(t, 0.85*2.0/3.0, w["A"], 1e-9)
	assert.InDelta(t, 0.85/3.0, w["B"], 1e-9)
	assert.Equal(t, 0.0, w["C"])

	short := InverseVolWeights(f.Slice(0, 30), 0.85)
	assert.Equal(t, 0.0, short["A"])
}

func TestERCWeightsBudget(t *testing.T) {
	f := returnsFrame(80, map[string]func(int) float64{
		"A": func(i int) float64 { return 0.01 * math.Sin(float64(i)) },
		"B": func(i int) float64 { return 0.02 * math.Cos(float64(i)*0.7) },
	})
	w := ERCWeights(f, 0.5)
	require.Len(t, w, 2)
	assert.InDelta(t, 0.5, w["A"]+w["B"], 1e-9)
	assert.Greater(t, w["A"], w["B"])
}

func TestVolTargetScale(t *testing.T) {
	f := returnsFrame(40, map[string]func(int) float64{
		"A": func(i int) float64 {
			if i%2 == 0 {
				return 0.01
			}
			return -0.01
		},
	})
	w := models.ZeroFrame(f.Dates, f.Symbols)
	for i := range w.Values {
		w.Values[i][0] = 1
	}

	scale := VolTargetScale(w, f, 0.10)
	assert.Equal(t, 1.0, scale[5], "undefined estimate defaults to 1")
	// realized vol is 0.01*sqrt(252), about 0.159
	assert.InDelta(t, 0.10/(0.01*math.Sqrt(252)), scale[len(scale)-1], 1e-9)

	capped := VolTargetScale(w, f, 10)
	assert.Equal(t, 3.0, capped[len(capped)-1])

	flat := VolTargetScale(models.ZeroFrame(f.Dates, f.Symbols), f, 0.1)
	assert.Equal(t, 1.0, flat[len(flat)-1])
}
