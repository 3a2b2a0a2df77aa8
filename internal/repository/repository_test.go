package repository

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/pkg/cache"
	pkgkafka "FinAlloc/pkg/kafka"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestCSVMarketDataBars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "AAA.csv"), "date,open,high,low,close,adj_close,volume\n"+
		"2024-01-02,10,11,9,10.5,10.4,1000\n"+
		"2024-01-03,10.5,12,10,11,,2000\n"+
		"2024-01-04,,12,10,11.5,11.5,1500\n")
	writeFile(t, filepath.Join(dir, "BBB.csv"), "date,open,high,low,close,adj_close,volume\n"+
		"2024-01-03,20,21,19,20.5,20.5,500\n")
	universe := filepath.Join(dir, "universe.csv")
	writeFile(t, universe, "symbol,sector,beta\naaa,Tech,1.2\nBBB,,\n")

	md, err := NewCSVMarketData(dir, universe, "", nil)
	require.NoError(t, err)

	bars, err := md.Bars(context.Background(), []string{"AAA", "BBB"}, day(2024, 1, 3), day(2024, 1, 4))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, "AAA", bars[0].Symbol)
	assert.Equal(t, "BBB", bars[1].Symbol)
	assert.Equal(t, 11.0, bars[0].Adjusted(), "empty adj_close falls back to close")
	assert.True(t, math.IsNaN(bars[2].Open))

	meta, err := md.Meta(context.Background())
	require.NoError(t, err)
	require.Len(t, meta, 2)
	assert.Equal(t, "AAA", meta[0].Symbol)
	assert.Equal(t, models.UnknownSector, meta[1].SectorOrUnknown())
	assert.Equal(t, 1.0, meta[1].BetaOrDefault())

	syms, err := md.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, syms)
}

func TestCSVMarketDataMissingFiles(t *testing.T) {
	dir := t.TempDir()
	md, err := NewCSVMarketData(dir, "", "", nil)
	require.NoError(t, err)

	funds, err := md.Fundamentals(context.Background(), []string{"AAA"})
	require.NoError(t, err)
	assert.Empty(t, funds)

	intraday, err := md.IntradayBars(context.Background(), []string{"AAA"}, day(2024, 1, 1), day(2024, 1, 2), domrepo.TF5m)
	require.NoError(t, err)
	assert.Empty(t, intraday)

	_, err = md.Bars(context.Background(), []string{"AAA"}, day(2024, 1, 1), day(2024, 1, 2))
	require.Error(t, err)

	_, err = NewCSVMarketData(filepath.Join(dir, "nope"), "", "", nil)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestCSVMarketDataFundamentalsAndIntraday(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "fundamentals.csv"), "date,symbol,net_income,total_assets,gross_profit,total_revenue,operating_cash_flow,shareholders_equity\n"+
		"2023-12-31,AAA,10,100,30,90,12,50\n"+
		"2023-12-31,CCC,1,1,1,1,1,1\n")
	writeFile(t, filepath.Join(dir, "intraday", "5m", "AAA.csv"), "timestamp,open,high,low,close,volume\n"+
		"2024-01-02 14:30:00,10,10.2,9.9,10.1,300\n"+
		"2024-01-02 14:35:00,10.1,10.3,10,10.2,200\n")

	md, err := NewCSVMarketData(dir, "", "", nil)
	require.NoError(t, err)

	funds, err := md.Fundamentals(context.Background(), []string{"AAA"})
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, 10.0, funds[0].NetIncome)

	bars, err := md.IntradayBars(context.Background(), []string{"AAA"}, day(2024, 1, 2), day(2024, 1, 3), domrepo.TF5m)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 14, bars[0].Date.Hour())
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	bars  []models.PriceBar
}

func (s *countingSource) Bars(context.Context, []string, time.Time, time.Time) ([]models.PriceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.bars, nil
}

func (s *countingSource) IntradayBars(context.Context, []string, time.Time, time.Time, domrepo.Timeframe) ([]models.PriceBar, error) {
	return nil, errors.New("unavailable")
}

func (s *countingSource) Fundamentals(context.Context, []string) ([]models.Fundamentals, error) {
	return nil, nil
}

func (s *countingSource) Meta(context.Context) ([]models.SymbolMeta, error) {
	return []models.SymbolMeta{{Symbol: "AAA", Sector: "Tech", Beta: 1.1}}, nil
}

func TestCachedMarketDataServesRepeatReads(t *testing.T) {
	src := &countingSource{bars: []models.PriceBar{{Date: day(2024, 1, 2), Symbol: "AAA", Open: 1, Close: 2}}}
	mem := cache.NewMemoryCache(cache.WithMemoryMaxSize(8))
	defer mem.Close()
	md := NewCachedMarketData(src, mem, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bars, err := md.Bars(ctx, []string{"AAA"}, day(2024, 1, 1), day(2024, 1, 3))
		require.NoError(t, err)
		require.Len(t, bars, 1)
		assert.Equal(t, 2.0, bars[0].Close)
	}
	assert.Equal(t, 1, src.calls)

	_, err := md.Bars(ctx, []string{"AAA", "BBB"}, day(2024, 1, 1), day(2024, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "different symbols miss")

	require.NoError(t, md.Invalidate(ctx))
	_, err = md.Bars(ctx, []string{"AAA"}, day(2024, 1, 1), day(2024, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)

	_, err = md.IntradayBars(ctx, []string{"AAA"}, day(2024, 1, 1), day(2024, 1, 3), domrepo.TF1m)
	require.Error(t, err, "load errors are not cached")

	meta, err := md.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tech", meta[0].Sector)
}

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisherRoutesByTopic(t *testing.T) {
	w := &captureWriter{}
	pub := NewKafkaPublisher(pkgkafka.NewProducerWithWriter(w, "none"), Topics{
		Orders:    "orders",
		Trades:    "trades",
		Snapshots: "snapshots",
	})
	ctx := context.Background()

	require.NoError(t, pub.PublishOrders(ctx, []models.OrderTicket{{ClientID: "c1", Symbol: "AAA", Quantity: 5, Side: models.SideBuy}}))
	require.NoError(t, pub.PublishTrades(ctx, "run-1", []models.Trade{{Symbol: "AAA", Quantity: -2, Price: 10}}))
	require.NoError(t, pub.PublishSnapshot(ctx, models.AccountSnapshot{Broker: "paper", Cash: 100}))
	require.NoError(t, pub.PublishOrders(ctx, nil))
	require.Len(t, w.msgs, 3)

	assert.Equal(t, "orders", w.msgs[0].Topic)
	assert.Equal(t, []byte("AAA"), w.msgs[0].Key)
	assert.Equal(t, "client_id", w.msgs[0].Headers[0].Key)

	assert.Equal(t, "trades", w.msgs[1].Topic)
	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, "run-1", ev["run_id"])
	assert.Equal(t, -2.0, ev["qty"])

	assert.Equal(t, "snapshots", w.msgs[2].Topic)
	var snap models.AccountSnapshot
	require.NoError(t, json.Unmarshal(w.msgs[2].Value, &snap))
	assert.False(t, snap.Timestamp.IsZero())
}
