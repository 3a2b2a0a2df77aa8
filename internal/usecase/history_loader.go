package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/services/features"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/util"
)

// HistoryLoader assembles the aligned daily panel from MarketData.
type HistoryLoader struct {
	md      domrepo.MarketData
	symbols []string
	log     *applogger.Logger
}

// NewHistoryLoader uses symbols when given, otherwise the symbol meta universe.
func NewHistoryLoader(md domrepo.MarketData, symbols []string, log *applogger.Logger) *HistoryLoader {
	if log == nil {
		log = applogger.Nop()
	}
	return &HistoryLoader{md: md, symbols: symbols, log: log.Component("history_loader")}
}

func (l *HistoryLoader) universe(meta []models.SymbolMeta) []string {
	if len(l.symbols) > 0 {
		return l.symbols
	}
	out := make([]string, 0, len(meta))
	for _, m := range meta {
		out = append(out, m.Symbol)
	}
	sort.Strings(out)
	return out
}

// Load returns the history for [from, to]. An empty panel is not an error here;
// the pipeline decides what a gap means.
func (l *HistoryLoader) Load(ctx context.Context, from, to time.Time) (*models.History, error) {
	start := time.Now()
	from, to = util.AlignFromTo(from, to, "1d")
	meta, err := l.md.Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	symbols := l.universe(meta)
	bars, err := l.md.Bars(ctx, symbols, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	funds, err := l.md.Fundamentals(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("load fundamentals: %w", err)
	}
	h := features.BuildHistory(bars, meta, funds)
	l.log.Debug("history loaded",
		applogger.Date("from", from),
		applogger.Date("to", to),
		applogger.Int("symbols", len(symbols)),
		applogger.Int("bars", len(bars)),
		applogger.Int("fundamentals", len(funds)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return h, nil
}

// Trailing loads the days calendar days ending at asOf.
func (l *HistoryLoader) Trailing(ctx context.Context, asOf time.Time, days int) (*models.History, error) {
	from, to := util.LookbackWindow(asOf, days)
	return l.Load(ctx, from, to)
}

// Session returns the intraday bars of the session on day grouped by symbol.
func (l *HistoryLoader) Session(ctx context.Context, symbols []string, day time.Time, tf domrepo.Timeframe) (map[string][]models.PriceBar, error) {
	from, to := util.AlignFromTo(day, day, "1d")
	bars, err := l.md.IntradayBars(ctx, symbols, from, to, tf)
	if err != nil {
		return nil, fmt.Errorf("load intraday: %w", err)
	}
	out := make(map[string][]models.PriceBar)
	for _, b := range bars {
		out[b.Symbol] = append(out[b.Symbol], b)
	}
	return out, nil
}
