package signals

import (
	"math"
	"sort"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
)

type VWAPConfig struct {
	ZEntry       float64
	MinDollarVol float64
	Blackout     map[string]bool
}

func DefaultVWAPConfig() VWAPConfig {
	return VWAPConfig{ZEntry: 1.5, MinDollarVol: 5e6}
}

// VWAPSignals fades the distance of the last intraday close from the session
// VWAP. Results are clipped to ±1.5. Blacked out and illiquid names are skipped.
func VWAPSignals(intraday map[string][]models.PriceBar, daily map[string]models.PriceBar, cfg VWAPConfig) map[string]float64 {
	if cfg.ZEntry <= 0 {
		cfg.ZEntry = DefaultVWAPConfig().ZEntry
	}
	out := make(map[string]float64)
	for sym, bars := range intraday {
		if cfg.Blackout[sym] || len(bars) < 2 {
			continue
		}
		if d, ok := daily[sym]; ok && d.Close*d.Volume < cfg.MinDollarVol {
			continue
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

		var pv, vol float64
		for _, b := range bars {
			pv += b.Close * b.Volume
			vol += b.Volume
		}
		last := bars[len(bars)-1].Close
		vwap := last
		if vol > 0 {
			vwap = pv / vol
		}

		tail := bars
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
		closes := make([]float64, len(tail))
		for i, b := range tail {
			closes[i] = b.Close
		}
		std := math.Max(features.Std(closes, 1), 1e-3)
		z := (last - vwap) / std
		out[sym] = features.Clip(-z/cfg.ZEntry, -1.5, 1.5)
	}
	return out
}
