package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/services/backtest"
	"FinAlloc/internal/services/execution"
	"FinAlloc/pkg/config"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/metrics"
)

// BacktestReport is one finished run.
type BacktestReport struct {
	Result  *models.BacktestResult
	Summary models.PerformanceSummary
	Regime  *models.RegimeState
}

// BacktestRunner loads history with a warm-up, runs the pipeline and
// simulates the throttled weights over [from, to].
type BacktestRunner struct {
	cfg      *config.Config
	loader   *HistoryLoader
	pipeline *Pipeline
	pub      domrepo.EventPublisher
	metrics  domrepo.Metrics
	log      *applogger.Logger
}

func NewBacktestRunner(cfg *config.Config, loader *HistoryLoader, pipeline *Pipeline, pub domrepo.EventPublisher, m domrepo.Metrics, log *applogger.Logger) *BacktestRunner {
	if log == nil {
		log = applogger.Nop()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &BacktestRunner{cfg: cfg, loader: loader, pipeline: pipeline, pub: pub, metrics: m, log: log.Component("backtest")}
}

func (r *BacktestRunner) Run(ctx context.Context, from, to time.Time, initialEquity float64) (*BacktestReport, error) {
	start := time.Now()
	if !to.After(from) {
		return nil, fmt.Errorf("backtest window %s..%s is empty: %w", from.Format("2006-01-02"), to.Format("2006-01-02"), models.ErrConfiguration)
	}
	h, err := r.loader.Load(ctx, from.AddDate(0, 0, -r.cfg.Data.HistoryDays), to)
	if err != nil {
		return nil, err
	}
	res, err := r.pipeline.Run(ctx, h, nil)
	if err != nil {
		return nil, err
	}
	window := historyFrom(h, from)
	if window.Empty() {
		return nil, fmt.Errorf("no bars on or after %s: %w", from.Format("2006-01-02"), models.ErrMarketDataGap)
	}

	if initialEquity <= 0 {
		initialEquity = r.cfg.Backtest.InitialEquity
	}
	engine := backtest.NewEngine(
		backtest.Config{InitialEquity: initialEquity, BorrowBpsMonth: r.cfg.Costs.BorrowBpsMonth},
		execution.NewSlippage(r.cfg.Costs.SpreadBps, r.cfg.Costs.ImpactK),
	)
	result := engine.Run(window, map[string]*models.Frame{backtest.AggregateSleeve: res.Weights})
	summary := backtest.Summarize(result)

	report := &BacktestReport{Result: result, Summary: summary}
	if st, ok := res.LatestRegime(); ok {
		report.Regime = &st
	}
	if n := len(result.Equity); n > 0 {
		r.metrics.RecordEquity("backtest", result.Equity[n-1])
	}
	elapsed := time.Since(start)
	r.metrics.RecordPipelineRun("backtest", elapsed.Seconds())

	if r.cfg.Backtest.PublishTrades && r.pub != nil {
		if err := r.pub.PublishTrades(ctx, result.RunID, result.Trades); err != nil {
			r.metrics.RecordError("publish_trades")
			r.log.Warn("publish trades failed", applogger.String("run_id", result.RunID), applogger.Error(err))
		}
	}
	r.log.Info("backtest finished",
		applogger.String("run_id", result.RunID),
		applogger.Date("from", window.Dates()[0]),
		applogger.Date("to", window.Dates()[len(window.Dates())-1]),
		applogger.Int("trades", len(result.Trades)),
		applogger.Float64("cagr", summary.CAGR),
		applogger.Float64("sharpe", summary.Sharpe),
		applogger.Float64("max_dd", summary.MaxDD),
		applogger.Duration("duration_ms", elapsed),
	)
	return report, nil
}

// historyFrom drops the rows before from. Meta and fundamentals are kept.
func historyFrom(h *models.History, from time.Time) *models.History {
	dates := h.Dates()
	i := 0
	for i < len(dates) && dates[i].Before(from) {
		i++
	}
	n := len(dates)
	slice := func(f *models.Frame) *models.Frame {
		if f == nil {
			return nil
		}
		return f.Slice(i, n)
	}
	return &models.History{
		Open:     slice(h.Open),
		High:     slice(h.High),
		Low:      slice(h.Low),
		Close:    slice(h.Close),
		AdjClose: slice(h.AdjClose),
		Volume:   slice(h.Volume),
		Meta:     h.Meta,
		Funds:    h.Funds,
	}
}

// IsClientError reports whether err was caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, models.ErrConfiguration) ||
		errors.Is(err, models.ErrMarketDataGap) ||
		errors.Is(err, models.ErrNoActiveSleeves)
}
