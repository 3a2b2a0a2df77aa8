package portfolio

import (
	"math"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
)

const (
	volTargetWindow = 20
	maxLeverage     = 3.0
	annualization   = 252
)

// VolTargetScale returns per-date multipliers that bring the realized
// volatility of the weight series to targetVol. Undefined estimates give 1.
func VolTargetScale(weights, returns *models.Frame, targetVol float64) []float64 {
	pr := make([]float64, weights.Len())
	for i := range pr {
		if i == 0 {
			pr[i] = math.NaN()
			continue
		}
		var sum float64
		for j, s := range weights.Symbols {
			w := weights.Values[i-1][j]
			r := returns.At(returns.Row(weights.Dates[i]), s)
			if math.IsNaN(w) || math.IsNaN(r) {
				continue
			}
			sum += w * r
		}
		pr[i] = sum
	}
	vol := features.RollingStd(pr, volTargetWindow, volTargetWindow, 0)
	out := make([]float64, len(pr))
	for i, v := range vol {
		ann := v * math.Sqrt(annualization)
		if !features.IsFinite(ann) || ann <= 0 {
			out[i] = 1
			continue
		}
		out[i] = math.Min(targetVol/ann, maxLeverage)
	}
	return out
}

// ScaleToTarget applies VolTargetScale to the weight series.
func ScaleToTarget(weights, returns *models.Frame, targetVol float64) *models.Frame {
	return features.ScaleRows(weights, VolTargetScale(weights, returns, targetVol))
}
