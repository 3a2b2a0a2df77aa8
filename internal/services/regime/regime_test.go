package regime

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
	"FinAlloc/internal/testutil"
)

func TestBreadthAllocatorThresholds(t *testing.T) {
	base := map[models.RegimeLabel]map[string]float64{
		models.RegimeRiskOff: {"C": 0.6, "D": 0.4},
		models.RegimeRiskOn:  {"C": 0.8, "D": 0.2},
		models.RegimeNeutral: {"C": 0.7, "D": 0.3},
	}
	a, err := NewBreadthAllocator(map[string]float64{"risk_off": 0.45, "risk_on": 0.60}, base)
	require.NoError(t, err)

	rows := a.Allocate(nil, []float64{0.4, 0.5, 0.7})
	require.Len(t, rows, 3)
	assert.Equal(t, base[models.RegimeRiskOff], rows[0].Weights)
	assert.Equal(t, base[models.RegimeNeutral], rows[1].Weights)
	assert.Equal(t, base[models.RegimeRiskOn], rows[2].Weights)
	assert.Equal(t, models.RegimeRiskOn, rows[2].Label)
}

func TestBreadthAllocatorBoundariesAndNaN(t *testing.T) {
	base := map[models.RegimeLabel]map[string]float64{
		models.RegimeNeutral: {"C": 1},
	}
	a, err := NewBreadthAllocator(map[string]float64{"risk_off": 0.45, "risk_on": 0.60}, base)
	require.NoError(t, err)

	assert.Equal(t, models.RegimeRiskOff, a.Label(0.45))
	assert.Equal(t, models.RegimeRiskOn, a.Label(0.60))
	assert.Equal(t, models.RegimeNeutral, a.Label(math.NaN()))

	// risk_on has no base entry, so the neutral mix is returned.
	label, w := a.Weights(0.9)
	assert.Equal(t, models.RegimeNeutral, label)
	assert.Equal(t, map[string]float64{"C": 1}, w)
}

func TestBreadthAllocatorRejectsMissingKeys(t *testing.T) {
	_, err := NewBreadthAllocator(map[string]float64{"risk_on": 0.6}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	_, err = NewBreadthAllocator(map[string]float64{"risk_off": 0.7, "risk_on": 0.6}, nil)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name                        string
		breadth, vol, corr, disp    float64
		label                       models.RegimeLabel
		momentumScale, meanRevScale float64
	}{
		{"broad weakness", 0.0, 1.0, 1.0, 1.0, models.RegimeRiskOff, 0.6, 0.3},
		{"volatile narrow", 0.45, 0.9, 0.2, 0.3, models.RegimeVolatile, 0.6, 0.4},
		{"calm broad", 0.9, 0.2, 0.3, 0.2, models.RegimeRiskOn, 1.0, 1.0},
		{"mixed low corr", 0.5, 0.5, 0.2, 0.5, models.RegimeTransition, 0.85, 0.7},
		{"mixed high corr", 0.5, 0.5, 0.8, 0.5, models.RegimeTransition, 0.85, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := classify(tt.breadth, tt.vol, tt.corr, tt.disp)
			assert.Equal(t, tt.label, st.Label)
			assert.Equal(t, tt.momentumScale, st.MomentumScale)
			assert.Equal(t, tt.meanRevScale, st.MeanReversionScale)
		})
	}
}

func TestDetectShortHistoryIsEmpty(t *testing.T) {
	dates := testutil.BusinessDays(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 50)
	h := features.BuildHistory(testutil.Bars(dates, map[string]testutil.PriceFunc{
		"AAA": testutil.Linear(100, 1),
		"BBB": testutil.Linear(50, 0.5),
	}, 1e6), nil, nil)

	assert.Empty(t, NewDetector().Detect(h))
}

func TestDetectProducesBoundedScales(t *testing.T) {
	dates := testutil.BusinessDays(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), 320)
	h := features.BuildHistory(testutil.Bars(dates, map[string]testutil.PriceFunc{
		"AAA": testutil.Wave(100, 0.2, 3, 17, 0),
		"BBB": testutil.Wave(80, 0.1, 2, 23, 1),
		"CCC": testutil.Wave(60, -0.05, 4, 11, 2),
	}, 1e6), nil, nil)

	states := NewDetector().Detect(h)
	require.NotEmpty(t, states)
	for _, st := range states {
		assert.GreaterOrEqual(t, st.MomentumScale, 0.0)
		assert.LessOrEqual(t, st.MomentumScale, 1.0)
		assert.GreaterOrEqual(t, st.MeanReversionScale, 0.0)
		assert.LessOrEqual(t, st.MeanReversionScale, 1.0)
		assert.GreaterOrEqual(t, st.Breadth, 0.0)
		assert.LessOrEqual(t, st.Breadth, 1.0)
	}
	// the first state has a degenerate min-max range
	first := states[0]
	want := 0.45*(1-first.Breadth) + 0.30*0.5 + 0.15*features.Clip(first.Corr, 0, 1) + 0.10*0.5
	assert.InDelta(t, want, first.Score, 1e-12)
}

func TestScaleSeriesDefaultsToOne(t *testing.T) {
	dates := testutil.BusinessDays(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 4)
	states := []models.RegimeState{{Date: dates[2], MomentumScale: 0.6, MeanReversionScale: 0.3}}

	mom, mr := ScaleSeries(dates, states)
	assert.Equal(t, []float64{1, 1, 0.6, 0.6}, mom)
	assert.Equal(t, []float64{1, 1, 0.3, 0.3}, mr)
}
