package signals

import (
	"math"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
)

// CrossSectionalMomentum ranks simple lookback momentum within each sector.
// Signal is +1 in the top quintile, -1 in the bottom, 0 otherwise; hint is
// rank - 0.5.
func CrossSectionalMomentum(prices *models.Frame, sectors map[string]string, lookbackMonths int, skipRecent bool) (signal, hint *models.Frame) {
	skip := 0
	if skipRecent {
		skip = tradingDaysPerMonth
	}
	lag := lookbackMonths*tradingDaysPerMonth + skip
	mom := features.MapColumns(prices, func(x []float64) []float64 {
		recent := features.Shift(x, skip)
		past := features.Shift(x, lag)
		out := features.NaNSeries(len(x))
		for i := range x {
			if past[i] > 0 && !math.IsNaN(recent[i]) {
				out[i] = recent[i]/past[i] - 1
			}
		}
		return out
	})

	groups := make(map[string][]int)
	for j, s := range prices.Symbols {
		sec := sectors[s]
		if sec == "" {
			sec = models.UnknownSector
		}
		groups[sec] = append(groups[sec], j)
	}

	signal = models.ZeroFrame(prices.Dates, prices.Symbols)
	hint = models.ZeroFrame(prices.Dates, prices.Symbols)
	for i, row := range mom.Values {
		for _, cols := range groups {
			vals := make([]float64, len(cols))
			for k, j := range cols {
				vals[k] = row[j]
			}
			ranks := features.RankPct(vals)
			for k, j := range cols {
				r := ranks[k]
				if math.IsNaN(r) {
					continue
				}
				hint.Values[i][j] = r - 0.5
				switch {
				case r >= 0.8:
					signal.Values[i][j] = 1
				case r <= 0.2:
					signal.Values[i][j] = -1
				}
			}
		}
	}
	return signal, hint
}
