package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/pkg/metrics"
)

// QuoteSink receives quotes that passed the pipeline.
type QuoteSink interface {
	Process(ctx context.Context, q *models.Quote) error
}

// QuotePipeline sits between the websocket and the quote book.
// It validates, optionally transforms and throttles quotes per symbol.
type QuotePipeline struct {
	sink      QuoteSink
	metrics   domrepo.Metrics
	maxRPS    int
	transform func(*models.Quote) *models.Quote

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted time
	now      func() time.Time
}

type PipelineOption func(*QuotePipeline)

// WithMaxRPS sets the max quotes per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *QuotePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithTransform sets a hook that rewrites each quote before throttling.
func WithTransform(fn func(*models.Quote) *models.Quote) PipelineOption {
	return func(p *QuotePipeline) { p.transform = fn }
}

func NewQuotePipeline(sink QuoteSink, m domrepo.Metrics, opts ...PipelineOption) *QuotePipeline {
	if m == nil {
		m = metrics.Noop{}
	}
	p := &QuotePipeline{
		sink:     sink,
		metrics:  m,
		maxRPS:   20,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, throttles and forwards q. Throttled quotes are dropped
// without an error.
func (p *QuotePipeline) Process(ctx context.Context, q *models.Quote) error {
	start := p.now()
	if err := validateQuote(q); err != nil {
		p.metrics.RecordError("quote_validate")
		return err
	}
	if p.transform != nil {
		q = p.transform(q)
		if err := validateQuote(q); err != nil {
			p.metrics.RecordError("quote_transform_invalid")
			return err
		}
	}
	if !p.allow(q.Symbol, start) {
		p.metrics.RecordError("quote_throttle")
		return nil
	}
	if err := p.sink.Process(ctx, q); err != nil {
		p.metrics.RecordError("quote_sink")
		return fmt.Errorf("quote sink: %w", err)
	}
	p.metrics.RecordLatency("quote_process", p.now().Sub(start).Seconds())
	return nil
}

func validateQuote(q *models.Quote) error {
	if q == nil {
		return fmt.Errorf("quote nil")
	}
	if q.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if q.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if math.IsNaN(q.Price) || q.Price <= 0 || q.Volume < 0 {
		return fmt.Errorf("invalid price/volume for %s", q.Symbol)
	}
	return nil
}

func (p *QuotePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[symbol]
	if ok && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
