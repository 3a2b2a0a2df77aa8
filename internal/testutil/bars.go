// Package testutil builds deterministic market data for tests.
package testutil

import (
	"math"
	"time"

	"FinAlloc/internal/domain/models"
)

// BusinessDays returns n weekdays starting at start.
func BusinessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

// PriceFunc returns the close for bar i of a symbol.
type PriceFunc func(i int) float64

func Linear(base, slope float64) PriceFunc {
	return func(i int) float64 { return base + slope*float64(i) }
}

// Wave is a trend with a deterministic oscillation so returns have variance.
func Wave(base, slope, amp, period, phase float64) PriceFunc {
	return func(i int) float64 {
		return base + slope*float64(i) + amp*math.Sin(2*math.Pi*float64(i)/period+phase)
	}
}

// Bars builds daily bars with open equal to the previous close.
func Bars(dates []time.Time, prices map[string]PriceFunc, volume float64) []models.PriceBar {
	var out []models.PriceBar
	for sym, fn := range prices {
		for i, d := range dates {
			c := fn(i)
			o := c
			if i > 0 {
				o = fn(i - 1)
			}
			out = append(out, models.PriceBar{
				Date: d, Symbol: sym,
				Open: o, High: math.Max(o, c), Low: math.Min(o, c),
				Close: c, AdjClose: c, Volume: volume,
			})
		}
	}
	return out
}
