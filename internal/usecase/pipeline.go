package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	domsvc "FinAlloc/internal/domain/service"
	"FinAlloc/internal/services/costs"
	"FinAlloc/internal/services/features"
	"FinAlloc/internal/services/portfolio"
	"FinAlloc/internal/services/regime"
	"FinAlloc/internal/services/signals"
	"FinAlloc/pkg/config"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/metrics"
)

// PipelineResult carries every intermediate the callers report on.
type PipelineResult struct {
	Regimes []models.RegimeState
	// Sleeves holds each sleeve's weights on the dates it produced them.
	Sleeves map[string]*models.Frame
	// Target is the vol-targeted aggregate before the cost throttle.
	Target *models.Frame
	// Weights is the throttled target the engine and router consume.
	Weights *models.Frame
}

// Latest returns the last throttled target row.
func (r *PipelineResult) Latest() map[string]float64 {
	if r == nil || r.Weights.Empty() {
		return map[string]float64{}
	}
	return r.Weights.Last()
}

// LatestRegime returns the newest regime state, if any.
func (r *PipelineResult) LatestRegime() (models.RegimeState, bool) {
	if r == nil || len(r.Regimes) == 0 {
		return models.RegimeState{}, false
	}
	return r.Regimes[len(r.Regimes)-1], true
}

// Pipeline turns a history panel into throttled target weights.
type Pipeline struct {
	cfg         *config.Config
	detector    domsvc.RegimeDetector
	momentum    *signals.MultiTimeframeMomentum
	meanRev     *signals.MeanReversion
	costs       domsvc.CostModel
	constraints portfolio.ConstraintConfig
	metrics     domrepo.Metrics
	log         *applogger.Logger
}

type PipelineOption func(*Pipeline)

func WithDetector(d domsvc.RegimeDetector) PipelineOption {
	return func(p *Pipeline) { p.detector = d }
}

func WithCostModel(m domsvc.CostModel) PipelineOption {
	return func(p *Pipeline) { p.costs = m }
}

func WithMetrics(m domrepo.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(cfg *config.Config, log *applogger.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if log == nil {
		log = applogger.Nop()
	}
	c := cfg.Sleeves.XSecQV
	tfs := make([]signals.Timeframe, 0, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		tfs = append(tfs, signals.Timeframe{Months: tf.Months, Weight: tf.Weight})
	}
	mom, err := signals.NewMultiTimeframeMomentum(signals.MomentumConfig{
		Timeframes:      tfs,
		SkipRecentMonth: c.SkipRecentMonth,
		QualityFilter:   c.QualityFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("sleeve %s: %w", config.SleeveXSecQV, err)
	}
	d := cfg.Sleeves.IntradayRev
	p := &Pipeline{
		cfg: cfg,
		detector: regime.NewDetector(
			regime.WithBreadthWindow(cfg.Regime.BreadthWindow),
			regime.WithVolWindow(cfg.Regime.VolWindow),
			regime.WithCorrWindow(cfg.Regime.CorrWindow),
			regime.WithDispersionWindow(cfg.Regime.DispersionWindow),
		),
		momentum: mom,
		meanRev: signals.NewMeanReversion(signals.MeanReversionConfig{
			Lookback:    d.Lookback,
			ZThreshold:  d.ZEntry,
			MinObs:      d.MinObs,
			VolScaling:  d.VolScaling,
			TrendWindow: d.TrendWindow,
			GapWeight:   d.GapWeight,
		}),
		costs: costs.NewModel(
			costs.WithCommissionBps(cfg.Costs.CommissionBps),
			costs.WithSpreadBps(cfg.Costs.SpreadBps),
			costs.WithImpactK(cfg.Costs.ImpactK),
			costs.WithTimingBps(cfg.Costs.TimingBps),
			costs.WithThresholds(cfg.Costs.MinTradeBps, cfg.Costs.MaxTradeBps),
			costs.WithPortfolioValue(cfg.Costs.PortfolioValue),
		),
		constraints: portfolio.ConstraintConfig{
			SectorNeutral: cfg.Portfolio.SectorNeutral,
			BetaNeutral:   cfg.Portfolio.BetaNeutral,
			BetaLimit:     cfg.Portfolio.BetaLimit,
			MaxNameWeight: cfg.Portfolio.MaxNameWeight,
		},
		metrics: metrics.Noop{},
		log:     log.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run computes regimes, sleeve weights, the vol-targeted aggregate and the
// cost-throttled weights. intraday is optional and only feeds the VWAP blend.
func (p *Pipeline) Run(ctx context.Context, h *models.History, intraday map[string][]models.PriceBar) (*PipelineResult, error) {
	start := time.Now()
	if h.Empty() {
		p.metrics.RecordError("market_data_gap")
		return nil, fmt.Errorf("history is empty: %w", models.ErrMarketDataGap)
	}
	enabled := p.cfg.Sleeves.Enabled()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("every sleeve is disabled: %w", models.ErrNoActiveSleeves)
	}

	dates := h.Dates()
	states := p.detector.Detect(h)
	momScale, mrScale := regime.ScaleSeries(dates, states)
	returns := features.Returns(h)

	res := &PipelineResult{Regimes: states, Sleeves: make(map[string]*models.Frame)}
	for _, id := range enabled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var w *models.Frame
		switch id {
		case config.SleeveXSecQV:
			w = p.sleeveXSecQV(h, returns, momScale)
		case config.SleeveIntradayRev:
			w = p.sleeveIntradayRev(h, mrScale, intraday)
		default:
			return nil, fmt.Errorf("sleeve %s has no generator: %w", id, models.ErrConfiguration)
		}
		if w.Empty() {
			p.log.Warn("sleeve produced no weights", applogger.String("sleeve", string(id)))
			continue
		}
		res.Sleeves[string(id)] = w
		p.metrics.RecordSleeveGross(string(id), features.GrossExposure(w.Last()))
	}
	if len(res.Sleeves) == 0 {
		return nil, fmt.Errorf("no sleeve produced weights: %w", models.ErrNoActiveSleeves)
	}

	res.Target = p.aggregate(res.Sleeves, returns)
	res.Weights = p.throttle(res.Target, features.ADV(h))

	if last, ok := res.LatestRegime(); ok {
		p.metrics.RecordRegime(string(last.Label), last.Score)
	}
	elapsed := time.Since(start)
	p.metrics.RecordLatency("pipeline", elapsed.Seconds())
	p.log.Info("pipeline run",
		applogger.Date("asof", dates[len(dates)-1]),
		applogger.Int("dates", len(dates)),
		applogger.Int("symbols", len(h.Symbols())),
		applogger.Int("sleeves", len(res.Sleeves)),
		applogger.Float64("gross", features.GrossExposure(res.Latest())),
		applogger.Duration("duration_ms", elapsed),
	)
	return res, nil
}

// sleeveXSecQV is the sector-neutral momentum and quality-value long/short.
func (p *Pipeline) sleeveXSecQV(h *models.History, returns *models.Frame, momScale []float64) *models.Frame {
	c := p.cfg.Sleeves.XSecQV
	dates, symbols := h.Dates(), h.Symbols()
	sectors, betas := h.Sectors(), h.Betas()

	mom := p.momentum.Ranks(h.AdjClose)
	qv := signals.QualityValue(h.Funds, dates, symbols, c.LookaheadGuardDays, c.QVFields)
	mw := c.MomentumWeight
	blended := features.Combine(mom, qv, func(m, q float64) float64 {
		if math.IsNaN(m) {
			m = 0.5
		}
		if math.IsNaN(q) {
			q = 0.5
		}
		return mw*m + (1-mw)*q
	})

	freq, err := signals.ParseFrequency(c.Rebalance)
	if err != nil {
		freq = signals.Monthly
	}
	rebal := signals.RebalanceDates(dates, freq)
	ls := signals.LongShort(blended, sectors, rebal, signals.LongShortConfig{
		TopQuantile:    c.TopQuantile,
		BottomQuantile: c.BottomQuantile,
		SectorNeutral:  p.cfg.Portfolio.SectorNeutral,
	})
	crash := signals.CrashScale(returns)

	out := models.ZeroFrame(rebal, symbols)
	for i, d := range rebal {
		row := h.Close.Row(d)
		budget := c.RiskBudget * momScale[row]
		if budget == 0 {
			continue
		}
		trailing := returns.Slice(row-portfolio.VolLookback+1, row+1)
		var sizing map[string]float64
		if p.cfg.Portfolio.Sizing == "erc" {
			sizing = portfolio.ERCWeights(trailing, budget)
		} else {
			sizing = portfolio.InverseVolWeights(trailing, budget)
		}
		raw := make(map[string]float64, len(symbols))
		for _, s := range symbols {
			raw[s] = ls.At(i, s) * crash[row] * sizing[s]
		}
		for s, w := range portfolio.ApplyConstraints(raw, p.constraints, sectors, betas) {
			out.Set(i, s, w)
		}
	}
	return out
}

// sleeveIntradayRev sizes the latest mean-reversion row to its budget.
func (p *Pipeline) sleeveIntradayRev(h *models.History, mrScale []float64, intraday map[string][]models.PriceBar) *models.Frame {
	c := p.cfg.Sleeves.IntradayRev
	dates := h.Dates()
	last := len(dates) - 1
	sig := p.meanRev.Signals(h, mrScale).Slice(last, last+1)

	if c.VWAPWeight > 0 && len(intraday) > 0 {
		vwap := signals.VWAPSignals(intraday, p.dailyBars(h, last), signals.VWAPConfig{
			ZEntry:       c.VWAPZEntry,
			MinDollarVol: c.MinDollarVol,
			Blackout:     earningsBlackout(h.Funds, dates[last], c.EarningsBlackoutDays),
		})
		for _, s := range sig.Symbols {
			v, ok := vwap[s]
			if !ok {
				continue
			}
			sig.Set(0, s, (1-c.VWAPWeight)*sig.At(0, s)+c.VWAPWeight*v)
		}
	}

	budget := c.RiskBudget * mrScale[last]
	out := models.ZeroFrame(sig.Dates, sig.Symbols)
	for s, w := range signals.LatestTarget(sig, budget) {
		out.Set(0, s, w)
	}
	return out
}

func (p *Pipeline) dailyBars(h *models.History, i int) map[string]models.PriceBar {
	out := make(map[string]models.PriceBar, len(h.Symbols()))
	for _, s := range h.Symbols() {
		out[s] = models.PriceBar{
			Date:   h.Close.Dates[i],
			Symbol: s,
			Close:  h.Close.At(i, s),
			Volume: h.Volume.At(i, s),
		}
	}
	return out
}

// earningsBlackout marks symbols that reported within days of asOf.
func earningsBlackout(funds []models.Fundamentals, asOf time.Time, days int) map[string]bool {
	out := make(map[string]bool)
	if days <= 0 {
		return out
	}
	for _, f := range funds {
		gap := asOf.Sub(f.Date).Hours() / 24
		if math.Abs(gap) <= float64(days) {
			out[f.Symbol] = true
		}
	}
	return out
}

// aggregate sums the sleeves on the return calendar and applies vol targeting.
func (p *Pipeline) aggregate(sleeves map[string]*models.Frame, returns *models.Frame) *models.Frame {
	total := models.ZeroFrame(returns.Dates, returns.Symbols)
	for _, id := range p.cfg.Sleeves.Enabled() {
		w, ok := sleeves[string(id)]
		if !ok {
			continue
		}
		total = total.Add(w.Reindex(returns.Dates, returns.Symbols, true).FillNaN(0))
	}
	return portfolio.ScaleToTarget(total, returns, p.cfg.Portfolio.TargetVolAnn)
}

// throttle walks the dates, feeding each optimized row back as the next current.
func (p *Pipeline) throttle(target, adv *models.Frame) *models.Frame {
	out := models.ZeroFrame(target.Dates, target.Symbols)
	current := make(map[string]float64, len(target.Symbols))
	for _, s := range target.Symbols {
		current[s] = 0
	}
	for i, d := range target.Dates {
		advRow := map[string]float64{}
		if r := adv.Row(d); r >= 0 {
			advRow = adv.RowMap(r)
		}
		optimized := p.costs.OptimizeRebalance(target.RowMap(i), current, advRow, p.cfg.Costs.PortfolioValue)
		for s, w := range optimized {
			out.Set(i, s, w)
		}
		current = optimized
	}
	return out
}
