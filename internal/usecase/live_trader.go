package usecase

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/services/execution"
	"FinAlloc/internal/services/features"
	"FinAlloc/pkg/config"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/metrics"
)

const (
	liveHistoryDays   = 2 * 252
	minGovernorCycles = 20
)

// PriceSource is any provider of last trade prices, such as a QuoteBook.
type PriceSource interface {
	Prices() map[string]float64
}

// marker is implemented by brokers that price positions themselves.
type marker interface {
	Mark(prices map[string]float64) float64
}

// Governor watches live equity and reports risk-off breaches.
type Governor struct {
	ddCut    float64
	sigmaCut float64
	peak     float64
	last     float64
	returns  []float64
}

func NewGovernor(cfg config.GovernanceConfig) *Governor {
	return &Governor{ddCut: cfg.DDCut, sigmaCut: cfg.LossSigmaCut}
}

// Observe records one cycle's equity. It returns "drawdown" or "loss_sigma"
// on a breach and "" otherwise.
func (g *Governor) Observe(equity float64) string {
	if equity <= 0 || math.IsNaN(equity) {
		return ""
	}
	if g.last > 0 {
		g.returns = append(g.returns, equity/g.last-1)
	}
	g.last = equity
	if equity > g.peak {
		g.peak = equity
	}
	if g.ddCut > 0 && 1-equity/g.peak > g.ddCut {
		return "drawdown"
	}
	if n := len(g.returns); g.sigmaCut > 0 && n >= minGovernorCycles {
		sd := features.Std(g.returns, 1)
		if sd > 0 && g.returns[n-1] < -g.sigmaCut*sd {
			return "loss_sigma"
		}
	}
	return ""
}

// CycleReport summarizes one live cycle.
type CycleReport struct {
	At        time.Time
	Equity    float64
	Cash      float64
	Breach    string
	RiskExits []models.OrderTicket
	Submitted []models.OrderTicket
}

// LiveTrader drives the polling loop: targets, account, risk exits, orders.
type LiveTrader struct {
	cfg      *config.Config
	loader   *HistoryLoader
	pipeline *Pipeline
	broker   domrepo.Broker
	router   *execution.Router
	quotes   PriceSource
	pub      domrepo.EventPublisher
	gov      *Governor
	metrics  domrepo.Metrics
	log      *applogger.Logger
	now      func() time.Time
}

type LiveOption func(*LiveTrader)

func WithQuotes(q PriceSource) LiveOption               { return func(t *LiveTrader) { t.quotes = q } }
func WithPublisher(p domrepo.EventPublisher) LiveOption { return func(t *LiveTrader) { t.pub = p } }
func WithLiveMetrics(m domrepo.Metrics) LiveOption      { return func(t *LiveTrader) { t.metrics = m } }
func WithLiveLogger(l *applogger.Logger) LiveOption     { return func(t *LiveTrader) { t.log = l } }
func WithClock(now func() time.Time) LiveOption         { return func(t *LiveTrader) { t.now = now } }

func NewLiveTrader(cfg *config.Config, loader *HistoryLoader, pipeline *Pipeline, broker domrepo.Broker, opts ...LiveOption) *LiveTrader {
	t := &LiveTrader{
		cfg:      cfg,
		loader:   loader,
		pipeline: pipeline,
		broker:   broker,
		router:   execution.NewRouter(execution.NewSlippage(cfg.Costs.SpreadBps, cfg.Costs.ImpactK)),
		gov:      NewGovernor(cfg.Governance),
		metrics:  metrics.Noop{},
		log:      applogger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.Component("live")
	return t
}

// Run executes cycles every poll interval until ctx is done. A failed cycle
// is logged and the loop continues.
func (t *LiveTrader) Run(ctx context.Context) error {
	t.log.Info("live loop started",
		applogger.String("broker", t.broker.Name()),
		applogger.Duration("poll_ms", t.cfg.Live.PollInterval),
	)
	for {
		if _, err := t.Cycle(ctx); err != nil {
			t.metrics.RecordError("live_cycle")
			t.log.Error("cycle failed", applogger.Error(err))
		}
		select {
		case <-ctx.Done():
			t.log.Info("live loop stopped")
			return nil
		case <-time.After(t.cfg.Live.PollInterval):
		}
	}
}

func (t *LiveTrader) Cycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	asOf := t.now().UTC()

	h, err := t.loader.Trailing(ctx, asOf, liveHistoryDays)
	if err != nil {
		return nil, err
	}
	res, err := t.pipeline.Run(ctx, h, t.session(ctx, h, asOf))
	if err != nil {
		return nil, err
	}
	target := res.Latest()

	prices := lastPrices(h)
	if t.quotes != nil {
		for s, p := range t.quotes.Prices() {
			prices[s] = p
		}
	}
	if m, ok := t.broker.(marker); ok {
		m.Mark(prices)
	}

	acct, err := t.broker.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker account: %w", err)
	}
	cash := acct.Cash
	if !acct.CashKnown {
		cash = t.cfg.Live.PaperStartCash
	}
	equity := cash
	for s, p := range acct.Positions {
		equity += p.Qty * priceOr(prices, s, p.AvgPrice)
	}
	current := make(map[string]float64, len(acct.Positions))
	if equity > 0 {
		for s, p := range acct.Positions {
			current[s] = p.Qty * priceOr(prices, s, p.AvgPrice) / equity
		}
	}

	report := &CycleReport{At: asOf, Equity: equity, Cash: cash}
	if breach := t.gov.Observe(equity); breach != "" {
		report.Breach = breach
		t.metrics.RecordError("governance_" + breach)
		t.log.Warn("governance breach, flattening targets", applogger.String("rule", breach), applogger.Float64("equity", equity))
		for s := range target {
			target[s] = 0
		}
	}

	exits, err := t.riskExits(ctx, acct.Positions)
	if err != nil {
		return nil, err
	}
	risk := make(map[string]bool, len(exits))
	for _, tk := range exits {
		risk[tk.Symbol] = true
		target[tk.Symbol] = 0
		current[tk.Symbol] = 0
	}
	report.RiskExits = exits

	routed := make(map[string]float64, len(target)+len(current))
	for s, w := range target {
		if !risk[s] {
			routed[s] = w
		}
	}
	for s := range current {
		if _, ok := routed[s]; !ok && !risk[s] {
			routed[s] = 0
		}
	}
	orders := t.router.BuildOrders(t.router.Reconcile(routed, current, prices), equity)
	tickets := append(exits, orders...)

	if len(tickets) > 0 {
		submitted, err := t.broker.Submit(ctx, tickets)
		if err != nil {
			return nil, fmt.Errorf("submit orders: %w", err)
		}
		report.Submitted = submitted
		for _, tk := range submitted {
			t.metrics.RecordOrder(t.broker.Name(), string(tk.Side))
		}
		if t.pub != nil && len(submitted) > 0 {
			if err := t.pub.PublishOrders(ctx, submitted); err != nil {
				t.log.Warn("publish orders failed", applogger.Error(err))
			}
		}
	}

	t.report(ctx, acct, report)
	t.metrics.RecordEquity("live", equity)
	t.metrics.RecordPipelineRun("live", time.Since(start).Seconds())
	return report, nil
}

// session loads today's intraday bars when the VWAP blend needs them.
func (t *LiveTrader) session(ctx context.Context, h *models.History, asOf time.Time) map[string][]models.PriceBar {
	c := t.cfg.Sleeves.IntradayRev
	if !c.Enabled || c.VWAPWeight <= 0 {
		return nil
	}
	bars, err := t.loader.Session(ctx, h.Symbols(), asOf, domrepo.TF5m)
	if err != nil {
		t.log.Warn("intraday session unavailable", applogger.Error(err))
		return nil
	}
	return bars
}

// riskExits flattens positions past the stop-loss or take-profit. Open
// orders are cancelled before any exit is queued.
func (t *LiveTrader) riskExits(ctx context.Context, positions map[string]models.BrokerPosition) ([]models.OrderTicket, error) {
	sl := math.Abs(t.cfg.Live.StopLossPLPC)
	tp := math.Abs(t.cfg.Live.TakeProfitPLPC)
	if sl == 0 && tp == 0 {
		return nil, nil
	}
	syms := make([]string, 0, len(positions))
	for s := range positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	var exits []models.OrderTicket
	for _, s := range syms {
		p := positions[s]
		if p.Qty == 0 || math.IsNaN(p.UnrealizedPLPC) {
			continue
		}
		reason := ""
		switch {
		case sl > 0 && p.UnrealizedPLPC <= -sl:
			reason = "stop_loss"
		case tp > 0 && p.UnrealizedPLPC >= tp:
			reason = "take_profit"
		default:
			continue
		}
		exits = append(exits, t.router.MarketClose(s, p.Qty, reason))
		t.log.Info("risk exit",
			applogger.String("symbol", s),
			applogger.String("reason", reason),
			applogger.Float64("plpc", p.UnrealizedPLPC),
		)
	}
	if len(exits) > 0 {
		if err := t.broker.CancelOpenOrders(ctx); err != nil {
			return nil, fmt.Errorf("cancel open orders: %w", err)
		}
	}
	return exits, nil
}

func (t *LiveTrader) report(ctx context.Context, acct models.AccountSnapshot, r *CycleReport) {
	acct.Broker = t.broker.Name()
	acct.Timestamp = r.At
	acct.Cash = r.Cash
	acct.Equity = r.Equity
	if t.pub != nil {
		if err := t.pub.PublishSnapshot(ctx, acct); err != nil {
			t.log.Warn("publish snapshot failed", applogger.Error(err))
		}
	}
	t.log.Info("cycle done",
		applogger.Float64("equity", r.Equity),
		applogger.Float64("cash", r.Cash),
		applogger.Int("positions", len(acct.Positions)),
		applogger.Int("orders", len(r.Submitted)),
		applogger.Int("risk_exits", len(r.RiskExits)),
	)
	if t.cfg.Live.PnLLog != "" {
		if err := appendPnL(t.cfg.Live.PnLLog, r.At, r.Equity, r.Cash); err != nil {
			t.log.Warn("pnl log write failed", applogger.String("path", t.cfg.Live.PnLLog), applogger.Error(err))
		}
	}
}

// appendPnL appends one timestamp,equity,cash row, writing the header for a new file.
func appendPnL(path string, at time.Time, equity, cash float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = w.Write([]string{"timestamp", "equity", "cash"})
	}
	_ = w.Write([]string{
		at.Format(time.RFC3339),
		strconv.FormatFloat(equity, 'f', 2, 64),
		strconv.FormatFloat(cash, 'f', 2, 64),
	})
	w.Flush()
	return w.Error()
}

// lastPrices returns each symbol's most recent non-NaN close.
func lastPrices(h *models.History) map[string]float64 {
	out := make(map[string]float64)
	if h == nil || h.Close.Empty() {
		return out
	}
	for j, s := range h.Close.Symbols {
		for i := h.Close.Len() - 1; i >= 0; i-- {
			if v := h.Close.Values[i][j]; !math.IsNaN(v) && v > 0 {
				out[s] = v
				break
			}
		}
	}
	return out
}

func priceOr(prices map[string]float64, sym string, def float64) float64 {
	if p, ok := prices[sym]; ok && p > 0 {
		return p
	}
	return def
}
