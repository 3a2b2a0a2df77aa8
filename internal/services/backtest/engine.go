package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"FinAlloc/internal/domain/models"
	domsvc "FinAlloc/internal/domain/service"
)

const (
	minTradeNotional = 1.0
	minTradePrice    = 1e-6
	AggregateSleeve  = "aggregate"
)

type Config struct {
	InitialEquity  float64
	BorrowBpsMonth float64
}

func DefaultConfig() Config {
	return Config{InitialEquity: 1e6, BorrowBpsMonth: 30}
}

// BorrowDaily converts a monthly borrow fee in bps to a daily rate.
func (c Config) BorrowDaily() float64 { return c.BorrowBpsMonth / 1e4 / 21 }

// Ledger is the cash and share state of a single run.
type Ledger struct {
	Cash      float64
	Positions map[string]float64
}

// MarkToMarket is cash plus Σ pos·close.
func (l *Ledger) MarkToMarket(closes map[string]float64) float64 {
	eq := l.Cash
	for _, s := range sortedSymbols(l.Positions) {
		eq += l.Positions[s] * closes[s]
	}
	return eq
}

// Engine replays target weights against bars. Each Run owns its own ledger,
// so one Engine may serve concurrent runs.
type Engine struct {
	cfg      Config
	slippage domsvc.SlippageModel
}

func NewEngine(cfg Config, slippage domsvc.SlippageModel) *Engine {
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = DefaultConfig().InitialEquity
	}
	return &Engine{cfg: cfg, slippage: slippage}
}

// Run trades at each date's open toward the summed sleeve weights and marks
// to the close. A missing sleeve row or cell means a zero target.
func (e *Engine) Run(h *models.History, sleeves map[string]*models.Frame) *models.BacktestResult {
	dates := h.Dates()
	symbols := h.Symbols()
	res := &models.BacktestResult{
		RunID:     uuid.NewString(),
		Dates:     append([]time.Time(nil), dates...),
		Equity:    make([]float64, len(dates)),
		Cash:      make([]float64, len(dates)),
		PnL:       make([]float64, len(dates)),
		Positions: make([]map[string]float64, len(dates)),
	}
	ledger := &Ledger{Cash: e.cfg.InitialEquity, Positions: make(map[string]float64, len(symbols))}
	lastClose := make(map[string]float64, len(symbols))
	borrow := e.cfg.BorrowDaily()
	sleeveIDs := sortedFrames(sleeves)

	for i, d := range dates {
		desired := make(map[string]float64, len(symbols))
		for _, id := range sleeveIDs {
			f := sleeves[id]
			row := f.Row(d)
			if row < 0 {
				continue
			}
			for s, w := range f.RowMap(row) {
				desired[s] += w
			}
		}

		eqPrev := e.cfg.InitialEquity
		if i > 0 {
			eqPrev = res.Equity[i-1]
		}
		for _, s := range symbols {
			open := h.Open.At(i, s)
			if math.IsNaN(open) || open <= 0 {
				continue
			}
			need := desired[s]*eqPrev - ledger.Positions[s]*open
			if math.Abs(need) < minTradeNotional {
				continue
			}
			p := math.Min(math.Abs(need)/math.Max(eqPrev, 1), 1)
			cost := e.slippage.Cost(p)
			price := open * (1 + cost)
			if need < 0 {
				price = open * (1 - cost)
			}
			price = math.Max(price, minTradePrice)
			qty := need / price
			ledger.Positions[s] += qty
			ledger.Cash -= qty * price
			res.Trades = append(res.Trades, models.Trade{
				Date:     d,
				Symbol:   s,
				Quantity: qty,
				Price:    price,
				Notional: qty * price,
				Sleeve:   AggregateSleeve,
			})
		}

		for _, s := range symbols {
			if c := h.Close.At(i, s); !math.IsNaN(c) {
				lastClose[s] = c
			}
		}
		var shortNotional float64
		for _, s := range sortedSymbols(ledger.Positions) {
			if pos := ledger.Positions[s]; pos < 0 {
				shortNotional += -pos * lastClose[s]
			}
		}
		ledger.Cash -= shortNotional * borrow

		res.Equity[i] = ledger.MarkToMarket(lastClose)
		res.Cash[i] = ledger.Cash
		snap := make(map[string]float64, len(ledger.Positions))
		for s, q := range ledger.Positions {
			snap[s] = q
		}
		res.Positions[i] = snap
		if i > 0 {
			res.PnL[i] = res.Equity[i] - res.Equity[i-1]
		}
	}
	return res
}

func sortedSymbols(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedFrames(m map[string]*models.Frame) []string {
	out := make([]string, 0, len(m))
	for k, f := range m {
		if f != nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
