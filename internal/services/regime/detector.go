package regime

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"FinAlloc/internal/domain/models"
	domsvc "FinAlloc/internal/domain/service"
	"FinAlloc/internal/services/features"
)

const (
	weightBreadth    = 0.45
	weightVol        = 0.30
	weightCorr       = 0.15
	weightDispersion = 0.10
)

// Detector scores market risk from breadth, volatility, correlation and dispersion.
type Detector struct {
	cfg *DetectorConfig
}

func NewDetector(opts ...DetectorOption) *Detector {
	cfg := defaultDetectorConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Detector{cfg: cfg}
}

// Detect returns one state per date that has every factor defined. Short
// history yields an empty slice.
func (d *Detector) Detect(h *models.History) []models.RegimeState {
	if h.Empty() {
		return nil
	}
	returns := features.Returns(h)
	breadth := TrendBreadth(h.Close, d.cfg.BreadthWindow)
	vol := features.RowMean(features.FrameRollingStd(returns, d.cfg.VolWindow, d.cfg.VolWindow, 1))
	corr := rollingMeanCorrelation(returns, d.cfg.CorrWindow)
	dispersion := features.RollingMean(features.RowStd(returns, 1), d.cfg.DispersionWindow, d.cfg.DispersionWindow)

	var out []models.RegimeState
	volMin, volMax := math.Inf(1), math.Inf(-1)
	dispMin, dispMax := math.Inf(1), math.Inf(-1)
	for i, date := range h.Dates() {
		if !features.IsFinite(breadth[i]) || !features.IsFinite(vol[i]) ||
			!features.IsFinite(corr[i]) || !features.IsFinite(dispersion[i]) {
			continue
		}
		// Min-max bounds only see dates up to and including this one.
		volMin, volMax = math.Min(volMin, vol[i]), math.Max(volMax, vol[i])
		dispMin, dispMax = math.Min(dispMin, dispersion[i]), math.Max(dispMax, dispersion[i])

		state := classify(
			breadth[i],
			minMax(vol[i], volMin, volMax),
			features.Clip(corr[i], 0, 1),
			minMax(dispersion[i], dispMin, dispMax),
		)
		state.Date = date
		state.Breadth = breadth[i]
		state.Vol = vol[i]
		state.Corr = corr[i]
		state.Dispersion = dispersion[i]
		out = append(out, state)
	}
	return out
}

func classify(breadth, volScore, corrScore, dispScore float64) models.RegimeState {
	score := weightBreadth*(1-breadth) + weightVol*volScore + weightCorr*corrScore + weightDispersion*dispScore
	st := models.RegimeState{Score: score}
	switch {
	case score >= 0.7:
		st.Label, st.MomentumScale, st.MeanReversionScale = models.RegimeRiskOff, 0.6, 0.3
	case volScore >= 0.7 && breadth < 0.5:
		st.Label, st.MomentumScale, st.MeanReversionScale = models.RegimeVolatile, 0.6, 0.4
	case score <= 0.4 && breadth >= 0.6:
		st.Label, st.MomentumScale, st.MeanReversionScale = models.RegimeRiskOn, 1.0, 1.0
	default:
		st.Label, st.MomentumScale = models.RegimeTransition, 0.85
		st.MeanReversionScale = 0.5
		if corrScore < 0.5 {
			st.MeanReversionScale = 0.7
		}
	}
	return st
}

func minMax(v, lo, hi float64) float64 {
	if hi-lo < 1e-12 {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}

// TrendBreadth is the share of symbols closing above their moving average.
// Symbols without a full window are left out of the denominator.
func TrendBreadth(closes *models.Frame, window int) []float64 {
	ma := features.FrameRollingMean(closes, window, window)
	out := features.NaNSeries(closes.Len())
	for i := range closes.Values {
		var above, count int
		for j := range closes.Symbols {
			c, m := closes.Values[i][j], ma.Values[i][j]
			if math.IsNaN(c) || math.IsNaN(m) {
				continue
			}
			count++
			if c > m {
				above++
			}
		}
		if count > 0 {
			out[i] = float64(above) / float64(count)
		}
	}
	return out
}

// rollingMeanCorrelation averages pairwise Pearson correlations over the
// trailing window. Pairs with missing data or zero variance are skipped.
func rollingMeanCorrelation(returns *models.Frame, window int) []float64 {
	out := features.NaNSeries(returns.Len())
	if window < 2 {
		return out
	}
	cols := make([][]float64, len(returns.Symbols))
	for j, s := range returns.Symbols {
		cols[j] = returns.Column(s)
	}
	for i := window - 1; i < returns.Len(); i++ {
		var sum float64
		var pairs int
		for a := 0; a < len(cols); a++ {
			xa := cols[a][i-window+1 : i+1]
			if hasNaN(xa) {
				continue
			}
			for b := a + 1; b < len(cols); b++ {
				xb := cols[b][i-window+1 : i+1]
				if hasNaN(xb) {
					continue
				}
				c := stat.Correlation(xa, xb, nil)
				if !features.IsFinite(c) {
					continue
				}
				sum += c
				pairs++
			}
		}
		if pairs > 0 {
			out[i] = sum / float64(pairs)
		}
	}
	return out
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

var _ domsvc.RegimeDetector = (*Detector)(nil)
