package features

import (
	"sort"
	"time"

	"FinAlloc/internal/domain/models"
)

// BuildHistory pivots long-form bars into aligned frames. Dates are the union
// of bar dates; symbols are sorted.
func BuildHistory(bars []models.PriceBar, meta []models.SymbolMeta, funds []models.Fundamentals) *models.History {
	dateSet := make(map[time.Time]struct{})
	symSet := make(map[string]struct{})
	for _, b := range bars {
		dateSet[truncateDay(b.Date)] = struct{}{}
		symSet[b.Symbol] = struct{}{}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	symbols := make([]string, 0, len(symSet))
	for s := range symSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	h := &models.History{
		Open:     models.NewFrame(dates, symbols),
		High:     models.NewFrame(dates, symbols),
		Low:      models.NewFrame(dates, symbols),
		Close:    models.NewFrame(dates, symbols),
		AdjClose: models.NewFrame(dates, symbols),
		Volume:   models.NewFrame(dates, symbols),
		Meta:     make(map[string]models.SymbolMeta, len(meta)),
		Funds:    funds,
	}
	for _, b := range bars {
		i := h.Close.Row(truncateDay(b.Date))
		h.Open.Set(i, b.Symbol, b.Open)
		h.High.Set(i, b.Symbol, b.High)
		h.Low.Set(i, b.Symbol, b.Low)
		h.Close.Set(i, b.Symbol, b.Close)
		h.AdjClose.Set(i, b.Symbol, b.Adjusted())
		h.Volume.Set(i, b.Symbol, b.Volume)
	}
	for _, m := range meta {
		h.Meta[m.Symbol] = m
	}
	return h
}

// Returns is the daily percentage change of adjusted closes.
func Returns(h *models.History) *models.Frame {
	return FramePctChange(h.AdjClose)
}

// DollarVolume is close times volume per cell.
func DollarVolume(h *models.History) *models.Frame {
	return Combine(h.Close, h.Volume, func(c, v float64) float64 { return c * v })
}

// ADV is the rolling 60 day (min 20) average dollar volume, forward filled.
func ADV(h *models.History) *models.Frame {
	adv := FrameRollingMean(DollarVolume(h), 60, 20)
	return MapColumns(adv, FFill)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
