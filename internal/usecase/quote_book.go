package usecase

import (
	"context"
	"sync"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	mid "FinAlloc/internal/middleware"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/metrics"
)

// QuoteBook keeps the latest print per symbol.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
	maxAge time.Duration
	now    func() time.Time
}

// NewQuoteBook drops quotes older than maxAge from Prices. Zero keeps every quote.
func NewQuoteBook(maxAge time.Duration) *QuoteBook {
	return &QuoteBook{quotes: make(map[string]models.Quote), maxAge: maxAge, now: time.Now}
}

func (b *QuoteBook) Process(_ context.Context, q *models.Quote) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.quotes[q.Symbol]; ok && prev.Timestamp.After(q.Timestamp) {
		return nil
	}
	b.quotes[q.Symbol] = *q
	return nil
}

// Prices returns the fresh last prices.
func (b *QuoteBook) Prices() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := b.now()
	out := make(map[string]float64, len(b.quotes))
	for s, q := range b.quotes {
		if b.maxAge > 0 && now.Sub(q.Timestamp) > b.maxAge {
			continue
		}
		out[s] = q.Price
	}
	return out
}

// QuoteCollector pumps a QuoteStream through the pipeline into the book.
type QuoteCollector struct {
	stream  domrepo.QuoteStream
	pipe    *mid.QuotePipeline
	metrics domrepo.Metrics
	log     *applogger.Logger
}

func NewQuoteCollector(stream domrepo.QuoteStream, pipe *mid.QuotePipeline, m domrepo.Metrics, log *applogger.Logger) *QuoteCollector {
	if log == nil {
		log = applogger.Nop()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &QuoteCollector{stream: stream, pipe: pipe, metrics: m, log: log.Component("quote_collector")}
}

func (c *QuoteCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects and subscribes, then consumes in the background until ctx is done.
func (c *QuoteCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	go c.consume(ctx)
	return nil
}

func (c *QuoteCollector) consume(ctx context.Context) {
	for ctx.Err() == nil {
		quotes, errs := c.stream.Read(ctx)
		c.drain(ctx, quotes, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("quote_stream")
		if err := c.stream.Reconnect(ctx); err != nil {
			c.log.Warn("reconnect failed", applogger.Error(err))
		}
	}
}

// drain returns when the stream reports an error or closes.
func (c *QuoteCollector) drain(ctx context.Context, quotes <-chan *models.Quote, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				c.log.Warn("quote stream error", applogger.Error(err))
				return
			}
			if !ok {
				errs = nil
			}
		case q, ok := <-quotes:
			if !ok {
				return
			}
			if err := c.pipe.Process(ctx, q); err != nil {
				c.log.Debug("quote rejected", applogger.Error(err))
			}
		}
	}
}

func (c *QuoteCollector) Shutdown() error { return c.stream.Close() }
