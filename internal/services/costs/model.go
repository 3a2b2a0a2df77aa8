package costs

import (
	"math"
	"sort"

	domsvc "FinAlloc/internal/domain/service"
)

// Config holds per-trade friction parameters in basis points.
type Config struct {
	CommissionBps  float64
	SpreadBps      float64
	ImpactK        float64
	TimingBps      float64
	MinTradeBps    float64
	MaxTradeBps    float64
	BenefitRate    float64
	PortfolioValue float64
}

func DefaultConfig() Config {
	return Config{
		CommissionBps:  0.5,
		SpreadBps:      2.0,
		ImpactK:        0.9,
		TimingBps:      1.0,
		MinTradeBps:    5,
		MaxTradeBps:    50,
		BenefitRate:    0.01,
		PortfolioValue: 1e6,
	}
}

type Option func(*Config)

func WithCommissionBps(v float64) Option { return func(c *Config) { c.CommissionBps = v } }
func WithSpreadBps(v float64) Option     { return func(c *Config) { c.SpreadBps = v } }
func WithImpactK(v float64) Option       { return func(c *Config) { c.ImpactK = v } }
func WithTimingBps(v float64) Option     { return func(c *Config) { c.TimingBps = v } }

// WithThresholds sets the dead zone and the always-trade band in basis points.
func WithThresholds(minBps, maxBps float64) Option {
	return func(c *Config) {
		c.MinTradeBps = minBps
		c.MaxTradeBps = maxBps
	}
}

func WithPortfolioValue(v float64) Option { return func(c *Config) { c.PortfolioValue = v } }

// Breakdown is the dollar cost of moving from current to target weights.
type Breakdown struct {
	Commission float64 `json:"commission"`
	Spread     float64 `json:"spread"`
	Impact     float64 `json:"impact"`
	Timing     float64 `json:"timing"`
	Total      float64 `json:"total"`
	TotalBps   float64 `json:"total_bps"`
	Notional   float64 `json:"notional"`
	Turnover   float64 `json:"turnover"`
}

type Model struct {
	cfg Config
}

func NewModel(opts ...Option) *Model {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Model{cfg: cfg}
}

func (m *Model) Config() Config { return m.cfg }

func union(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func weight(w map[string]float64, s string) float64 {
	v, ok := w[s]
	if !ok || math.IsNaN(v) {
		return 0
	}
	return v
}

// participation is trade/ADV clipped at 1. Unusable ADV gives 0.
func participation(trade, adv float64) float64 {
	if math.IsNaN(adv) || adv <= 0 {
		return 0
	}
	return math.Min(trade/adv, 1)
}

// Estimate prices a full rebalance.
func (m *Model) Estimate(target, current, adv map[string]float64, pv float64) Breakdown {
	if pv <= 0 {
		pv = m.cfg.PortfolioValue
	}
	var b Breakdown
	var impactBps float64
	for _, s := range union(target, current) {
		trade := math.Abs(weight(target, s)-weight(current, s)) * pv
		b.Notional += trade
		impactBps += trade * m.cfg.ImpactK * math.Sqrt(participation(trade, adv[s]))
	}
	b.Commission = b.Notional * m.cfg.CommissionBps / 1e4
	b.Spread = b.Notional * m.cfg.SpreadBps / 2 / 1e4
	b.Impact = impactBps / 1e4
	b.Timing = b.Notional * m.cfg.TimingBps / 1e4
	b.Total = b.Commission + b.Spread + b.Impact + b.Timing
	b.TotalBps = b.Total / pv * 1e4
	b.Turnover = b.Notional / pv
	return b
}

// symbolCost prices one symbol's trade in dollars.
func (m *Model) symbolCost(trade, adv float64) float64 {
	fixed := trade * (m.cfg.CommissionBps + m.cfg.SpreadBps/2 + m.cfg.TimingBps) / 1e4
	return fixed + trade*m.cfg.ImpactK*math.Sqrt(participation(trade, adv))/1e4
}

// OptimizeRebalance holds the current weight wherever trading is not worth
// it: moves inside the dead zone, symbols without usable ADV, and mid-sized
// moves whose cost exceeds the assumed benefit. It keeps no state.
func (m *Model) OptimizeRebalance(target, current, adv map[string]float64, pv float64) map[string]float64 {
	if pv <= 0 {
		pv = m.cfg.PortfolioValue
	}
	minDelta := m.cfg.MinTradeBps / 1e4
	maxDelta := m.cfg.MaxTradeBps / 1e4
	out := make(map[string]float64)
	for _, s := range union(target, current) {
		t, c := weight(target, s), weight(current, s)
		delta := math.Abs(t - c)
		a, ok := adv[s]
		switch {
		case delta < minDelta:
			out[s] = c
		case !ok || math.IsNaN(a) || a <= 0:
			out[s] = c
		case delta > maxDelta:
			out[s] = t
		case m.symbolCost(delta*pv, a) > delta*pv*m.cfg.BenefitRate:
			out[s] = c
		default:
			out[s] = t
		}
	}
	return out
}

var _ domsvc.CostModel = (*Model)(nil)
