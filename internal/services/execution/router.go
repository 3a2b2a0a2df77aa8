package execution

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"FinAlloc/internal/domain/models"
	domsvc "FinAlloc/internal/domain/service"
)

const (
	minNotional    = 1.0
	minPrice       = 1e-4
	minQty         = 1e-6
	participationN = 1e6
)

// Slice is one symbol's pending rebalance.
type Slice struct {
	Symbol  string
	Target  float64
	Current float64
	Price   float64
}

type Router struct {
	slippage domsvc.SlippageModel
	now      func() time.Time
}

func NewRouter(slippage domsvc.SlippageModel) *Router {
	return &Router{slippage: slippage, now: time.Now}
}

// Reconcile pairs targets with current weights. Symbols without a usable
// price are skipped; missing current weights count as flat.
func (r *Router) Reconcile(target, current, prices map[string]float64) []Slice {
	syms := make([]string, 0, len(target))
	for s := range target {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	out := make([]Slice, 0, len(syms))
	for _, s := range syms {
		px, ok := prices[s]
		if !ok || math.IsNaN(px) || px <= 1e-9 {
			continue
		}
		out = append(out, Slice{Symbol: s, Target: target[s], Current: current[s], Price: px})
	}
	return out
}

// BuildOrders turns weight deltas into limit tickets. Sells first close the
// held long and only then open a short, rounded down to whole shares.
func (r *Router) BuildOrders(slices []Slice, equity float64) []models.OrderTicket {
	var out []models.OrderTicket
	for _, sl := range slices {
		notional := equity * (sl.Target - sl.Current)
		if math.Abs(notional) < minNotional {
			continue
		}
		side := models.SideSell
		if notional > 0 {
			side = models.SideBuy
		}
		baseQty := math.Abs(notional) / math.Max(sl.Price, minPrice)
		qty := baseQty
		if side == models.SideSell {
			held := math.Max(equity*sl.Current/sl.Price, 0)
			closing := math.Min(baseQty, held)
			short := math.Floor(baseQty - closing + 1e-9)
			qty = closing + short
		}
		if qty <= minQty {
			continue
		}
		cost := r.slippage.Cost(math.Min(baseQty/participationN, 1))
		limit := sl.Price * (1 + cost)
		if side == models.SideSell {
			limit = sl.Price * (1 - cost)
		}
		out = append(out, models.OrderTicket{
			ClientID:   uuid.NewString(),
			Symbol:     sl.Symbol,
			Quantity:   qty,
			Side:       side,
			Type:       models.OrderTypeLimit,
			LimitPrice: &limit,
			Reason:     "rebalance",
			CreatedAt:  r.now(),
		})
	}
	return out
}

// MarketClose returns a ticket that flattens a held position.
func (r *Router) MarketClose(symbol string, qty float64, reason string) models.OrderTicket {
	side := models.SideSell
	if qty < 0 {
		side = models.SideBuy
	}
	return models.OrderTicket{
		ClientID:  uuid.NewString(),
		Symbol:    symbol,
		Quantity:  math.Abs(qty),
		Side:      side,
		Type:      models.OrderTypeMarket,
		Reason:    reason,
		CreatedAt: r.now(),
	}
}
