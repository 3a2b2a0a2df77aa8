package repository

import (
	"context"
	"time"

	"FinAlloc/internal/domain/models"
)

// MarketData is the read side of the bar store.
type MarketData interface {
	Bars(ctx context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error)
	IntradayBars(ctx context.Context, symbols []string, from, to time.Time, tf Timeframe) ([]models.PriceBar, error)
	Fundamentals(ctx context.Context, symbols []string) ([]models.Fundamentals, error)
	Meta(ctx context.Context) ([]models.SymbolMeta, error)
}

// BarStorage is the write side used by ingestion.
type BarStorage interface {
	Init(ctx context.Context) error
	StoreBars(ctx context.Context, bars []models.PriceBar) error
	StoreFundamentals(ctx context.Context, rows []models.Fundamentals) error
	StoreMeta(ctx context.Context, rows []models.SymbolMeta) error
	Health(ctx context.Context) error
	Close() error
}

// Broker is the order destination. The variant is fixed at construction.
type Broker interface {
	Name() string
	Account(ctx context.Context) (models.AccountSnapshot, error)
	Submit(ctx context.Context, tickets []models.OrderTicket) ([]models.OrderTicket, error)
	CancelOpenOrders(ctx context.Context) error
}

// EventPublisher fans pipeline output out to the message bus.
type EventPublisher interface {
	PublishOrders(ctx context.Context, tickets []models.OrderTicket) error
	PublishTrades(ctx context.Context, runID string, trades []models.Trade) error
	PublishSnapshot(ctx context.Context, snap models.AccountSnapshot) error
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

// QuoteStream delivers live trade prints.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordPipelineRun(mode string, seconds float64)
	RecordSleeveGross(sleeve string, gross float64)
	RecordRegime(label string, score float64)
	RecordOrder(broker, side string)
	RecordEquity(mode string, equity float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
