package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/metrics"
)

// Invalidator drops cached reads after new data lands.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// BarIngestHandler consumes bar messages and writes them to storage.
type BarIngestHandler struct {
	topic   string
	storage domrepo.BarStorage
	cache   Invalidator
	metrics domrepo.Metrics
	log     *applogger.Logger
}

// NewBarIngestHandler accepts a nil cache when reads are not cached.
func NewBarIngestHandler(topic string, storage domrepo.BarStorage, cache Invalidator, m domrepo.Metrics, log *applogger.Logger) *BarIngestHandler {
	if log == nil {
		log = applogger.Nop()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &BarIngestHandler{topic: topic, storage: storage, cache: cache, metrics: m, log: log.Component("bar_ingest")}
}

func (h *BarIngestHandler) Topic() string { return h.topic }

// Handle accepts one bar object or an array of bars.
func (h *BarIngestHandler) Handle(ctx context.Context, b []byte) error {
	bars, err := decodeBars(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	valid := bars[:0]
	for _, bar := range bars {
		if err := validateBar(bar); err != nil {
			h.metrics.RecordError("bar_invalid")
			h.log.Warn("dropping bar", applogger.String("symbol", bar.Symbol), applogger.Error(err))
			continue
		}
		valid = append(valid, bar)
	}
	if len(valid) == 0 {
		return nil
	}

	start := time.Now()
	err = h.storage.StoreBars(ctx, valid)
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return fmt.Errorf("store bars: %w", err)
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.log.Warn("cache invalidate failed", applogger.Error(err))
		}
	}
	return nil
}

func decodeBars(b []byte) ([]models.PriceBar, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var bars []models.PriceBar
		if err := json.Unmarshal(b, &bars); err != nil {
			return nil, fmt.Errorf("decode bars: %w", err)
		}
		return bars, nil
	}
	var bar models.PriceBar
	if err := json.Unmarshal(b, &bar); err != nil {
		return nil, fmt.Errorf("decode bar: %w", err)
	}
	return []models.PriceBar{bar}, nil
}

func validateBar(b models.PriceBar) error {
	switch {
	case b.Symbol == "":
		return fmt.Errorf("symbol empty")
	case b.Date.IsZero():
		return fmt.Errorf("date missing")
	case math.IsNaN(b.Close) || b.Close <= 0:
		return fmt.Errorf("close must be positive")
	case b.Volume < 0:
		return fmt.Errorf("negative volume")
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*BarIngestHandler)(nil)
