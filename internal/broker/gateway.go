package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
)

const (
	minOrderQty      = 1e-4
	participationADV = 1_000_000.0
)

// Sender publishes keyed messages. *kafka.Producer satisfies it.
type Sender interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// GatewayConfig wires the gateway to its topics.
type GatewayConfig struct {
	OrdersTopic      string
	AccountTopic     string
	MaxParticipation float64
	AccountWait      time.Duration
	// Dry logs orders instead of sending them.
	Dry bool
}

// OrderRequest is the message an execution gateway receives.
type OrderRequest struct {
	Action      string           `json:"action"`
	ClientID    string           `json:"client_id,omitempty"`
	Symbol      string           `json:"symbol,omitempty"`
	Qty         float64          `json:"qty,omitempty"`
	Side        models.Side      `json:"side,omitempty"`
	Type        string           `json:"type,omitempty"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce string           `json:"time_in_force,omitempty"`
	SentAt      time.Time        `json:"sent_at"`
}

// Gateway forwards tickets to an external execution gateway over Kafka and
// tracks the account snapshots the gateway reports back.
type Gateway struct {
	cfg    GatewayConfig
	sender Sender
	log    *applogger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	account *models.AccountSnapshot
	ready   chan struct{}
	once    sync.Once
}

func NewGateway(sender Sender, cfg GatewayConfig, log *applogger.Logger) *Gateway {
	if log == nil {
		log = applogger.Nop()
	}
	if cfg.MaxParticipation <= 0 {
		cfg.MaxParticipation = 0.05
	}
	if sender == nil {
		cfg.Dry = true
	}
	g := &Gateway{
		cfg:    cfg,
		sender: sender,
		log:    log.Component("gateway_broker"),
		now:    time.Now,
		ready:  make(chan struct{}),
	}
	if cfg.Dry {
		g.log.Warn("gateway credentials missing; broker runs in dry mode")
	}
	return g
}

func (g *Gateway) Name() string { return "gateway" }

func (g *Gateway) Dry() bool { return g.cfg.Dry }

// Account returns the latest reported snapshot. Before the first report it
// waits up to AccountWait and then returns a snapshot with CashKnown false.
func (g *Gateway) Account(ctx context.Context) (models.AccountSnapshot, error) {
	if !g.cfg.Dry {
		wait := g.cfg.AccountWait
		if wait <= 0 {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-g.ready:
		case <-t.C:
		case <-ctx.Done():
			return models.AccountSnapshot{}, ctx.Err()
		}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.account == nil {
		return models.AccountSnapshot{Broker: g.Name(), Timestamp: g.now().UTC(), Positions: map[string]models.BrokerPosition{}}, nil
	}
	snap := *g.account
	snap.Positions = make(map[string]models.BrokerPosition, len(g.account.Positions))
	for s, p := range g.account.Positions {
		snap.Positions[s] = p
	}
	return snap, nil
}

// Submit returns the tickets that were sent.
func (g *Gateway) Submit(ctx context.Context, tickets []models.OrderTicket) ([]models.OrderTicket, error) {
	if g.cfg.Dry {
		for _, t := range tickets {
			g.log.Info("dry-run order",
				applogger.String("symbol", t.Symbol),
				applogger.String("side", string(t.Side)),
				applogger.Float64("qty", t.Quantity),
			)
		}
		return nil, nil
	}
	sent := make([]models.OrderTicket, 0, len(tickets))
	for _, t := range tickets {
		req, ok := g.request(t)
		if !ok {
			continue
		}
		if err := g.sender.Publish(ctx, g.cfg.OrdersTopic, []byte(t.Symbol), req); err != nil {
			g.log.Error("submit order failed", applogger.String("symbol", t.Symbol), applogger.Error(err))
			continue
		}
		t.ClientID = req.ClientID
		sent = append(sent, t)
		g.log.Info("submitted order",
			applogger.String("symbol", t.Symbol),
			applogger.String("side", string(t.Side)),
			applogger.Float64("qty", req.Qty),
		)
	}
	return sent, nil
}

func (g *Gateway) request(t models.OrderTicket) (OrderRequest, bool) {
	qty := t.Quantity
	if qty < 0 {
		qty = -qty
	}
	if qty < minOrderQty {
		return OrderRequest{}, false
	}
	if p := min(qty/participationADV, 1); p > g.cfg.MaxParticipation {
		g.log.Warn("participation too high, skipping",
			applogger.String("symbol", t.Symbol),
			applogger.Float64("participation", p),
		)
		return OrderRequest{}, false
	}
	req := OrderRequest{
		Action:      "submit",
		ClientID:    t.ClientID,
		Symbol:      t.Symbol,
		Qty:         qty,
		Side:        t.Side,
		Type:        string(t.Type),
		TimeInForce: "day",
		SentAt:      g.now().UTC(),
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	switch t.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if t.LimitPrice == nil {
			g.log.Warn("limit order without price, skipping", applogger.String("symbol", t.Symbol))
			return OrderRequest{}, false
		}
		px := RoundCents(*t.LimitPrice)
		req.LimitPrice = &px
	default:
		g.log.Warn("unsupported order type, skipping", applogger.String("type", string(t.Type)))
		return OrderRequest{}, false
	}
	return req, true
}

func (g *Gateway) CancelOpenOrders(ctx context.Context) error {
	if g.cfg.Dry {
		return nil
	}
	req := OrderRequest{Action: "cancel_all", SentAt: g.now().UTC()}
	if err := g.sender.Publish(ctx, g.cfg.OrdersTopic, nil, req); err != nil {
		return fmt.Errorf("cancel open orders: %w", err)
	}
	return nil
}

// RoundCents rounds half away from zero to two decimals, which is half-up for prices.
func RoundCents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// AccountHandler consumes the gateway's account topic.
type AccountHandler struct {
	g *Gateway
}

func (g *Gateway) AccountHandler() *AccountHandler { return &AccountHandler{g: g} }

func (h *AccountHandler) Topic() string { return h.g.cfg.AccountTopic }

func (h *AccountHandler) Handle(_ context.Context, b []byte) error {
	var snap models.AccountSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode account snapshot: %w", err)
	}
	snap.Broker = h.g.Name()
	snap.CashKnown = true
	if snap.Positions == nil {
		snap.Positions = map[string]models.BrokerPosition{}
	}
	h.g.mu.Lock()
	if h.g.account != nil && snap.Timestamp.Before(h.g.account.Timestamp) {
		h.g.mu.Unlock()
		return nil
	}
	h.g.account = &snap
	h.g.mu.Unlock()
	h.g.once.Do(func() { close(h.g.ready) })
	return nil
}

var (
	_ domrepo.Broker          = (*Gateway)(nil)
	_ pkgkafka.MessageHandler = (*AccountHandler)(nil)
)
