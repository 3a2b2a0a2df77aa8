package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
)

type holding struct {
	qty float64
	avg float64
}

// Paper is an in-process broker. Orders fill immediately at their limit
// price, or at the last marked price for market orders.
type Paper struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*holding
	last      map[string]float64
	fills     []models.Trade
	now       func() time.Time
}

func NewPaper(startCash float64) *Paper {
	return &Paper{
		cash:      startCash,
		positions: make(map[string]*holding),
		last:      make(map[string]float64),
		now:       time.Now,
	}
}

func (p *Paper) Name() string { return "paper" }

// Mark updates last prices and returns equity at those prices.
func (p *Paper) Mark(prices map[string]float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for s, px := range prices {
		if px > 0 && !math.IsNaN(px) {
			p.last[s] = px
		}
	}
	return p.equityLocked()
}

func (p *Paper) equityLocked() float64 {
	eq := p.cash
	for s, h := range p.positions {
		eq += h.qty * p.last[s]
	}
	return eq
}

func (p *Paper) Account(context.Context) (models.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	positions := make(map[string]models.BrokerPosition, len(p.positions))
	for s, h := range p.positions {
		pos := models.BrokerPosition{Symbol: s, Qty: h.qty, AvgPrice: h.avg}
		if h.avg > 0 && p.last[s] > 0 {
			pos.UnrealizedPLPC = (p.last[s]/h.avg - 1) * sign(h.qty)
		}
		positions[s] = pos
	}
	eq := p.equityLocked()
	return models.AccountSnapshot{
		Broker:      p.Name(),
		Timestamp:   p.now().UTC(),
		Cash:        p.cash,
		Equity:      eq,
		BuyingPower: math.Max(p.cash, 0),
		Positions:   positions,
		CashKnown:   true,
	}, nil
}

// Submit fills every ticket it can price. Tickets without a price are skipped.
func (p *Paper) Submit(_ context.Context, tickets []models.OrderTicket) ([]models.OrderTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	filled := make([]models.OrderTicket, 0, len(tickets))
	for _, t := range tickets {
		if t.Quantity <= 0 {
			continue
		}
		price := p.last[t.Symbol]
		if t.LimitPrice != nil {
			price = *t.LimitPrice
		}
		if price <= 0 || math.IsNaN(price) {
			continue
		}
		qty := t.SignedQty()
		p.apply(t.Symbol, qty, price)
		p.fills = append(p.fills, models.Trade{
			Date:     p.now().UTC(),
			Symbol:   t.Symbol,
			Quantity: qty,
			Price:    price,
			Notional: qty * price,
			Sleeve:   t.Reason,
		})
		filled = append(filled, t)
	}
	return filled, nil
}

func (p *Paper) apply(symbol string, qty, price float64) {
	p.cash -= qty * price
	h, ok := p.positions[symbol]
	if !ok {
		h = &holding{}
		p.positions[symbol] = h
	}
	next := h.qty + qty
	switch {
	case math.Abs(next) < 1e-9:
		delete(p.positions, symbol)
		return
	case h.qty == 0 || sign(h.qty) != sign(next):
		h.avg = price
	case sign(qty) == sign(h.qty):
		h.avg = (h.avg*math.Abs(h.qty) + price*math.Abs(qty)) / math.Abs(next)
	}
	h.qty = next
}

func (p *Paper) CancelOpenOrders(context.Context) error { return nil }

// Fills returns a copy of every fill so far.
func (p *Paper) Fills() []models.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Trade(nil), p.fills...)
}

func (p *Paper) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("paper{cash=%.2f positions=%d}", p.cash, len(p.positions))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

var _ domrepo.Broker = (*Paper)(nil)
