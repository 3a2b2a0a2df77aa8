package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/broker"
	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/internal/services/features"
	"FinAlloc/internal/testutil"
	"FinAlloc/pkg/cache"
	"FinAlloc/pkg/config"
	"FinAlloc/pkg/queue"
)

type memMarketData struct {
	bars     []models.PriceBar
	intraday []models.PriceBar
	meta     []models.SymbolMeta
	funds    []models.Fundamentals
}

func symbolSet(symbols []string) map[string]bool {
	out := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		out[s] = true
	}
	return out
}

func filterBars(bars []models.PriceBar, symbols []string, from, to time.Time) []models.PriceBar {
	want := symbolSet(symbols)
	var out []models.PriceBar
	for _, b := range bars {
		if want[b.Symbol] && !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out
}

func (m *memMarketData) Bars(_ context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error) {
	return filterBars(m.bars, symbols, from, to), nil
}

func (m *memMarketData) IntradayBars(_ context.Context, symbols []string, from, to time.Time, _ domrepo.Timeframe) ([]models.PriceBar, error) {
	return filterBars(m.intraday, symbols, from, to), nil
}

func (m *memMarketData) Fundamentals(_ context.Context, symbols []string) ([]models.Fundamentals, error) {
	want := symbolSet(symbols)
	var out []models.Fundamentals
	for _, f := range m.funds {
		if want[f.Symbol] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memMarketData) Meta(context.Context) ([]models.SymbolMeta, error) { return m.meta, nil }

var fixtureSymbols = []string{"S0", "S1", "S2", "S3", "S4", "S5", "S6", "S7"}

// fixture is eight symbols in two sectors over n business days from 2023-01-02.
func fixture(n int) (*memMarketData, []time.Time) {
	dates := testutil.BusinessDays(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), n)
	prices := make(map[string]testutil.PriceFunc, len(fixtureSymbols))
	md := &memMarketData{}
	for i, s := range fixtureSymbols {
		slope := 0.02 * float64(i-3)
		prices[s] = testutil.Wave(100+5*float64(i), slope, 3, 17+float64(i), float64(i))
		sector := "Tech"
		if i%2 == 1 {
			sector = "Energy"
		}
		md.meta = append(md.meta, models.SymbolMeta{Symbol: s, Sector: sector, Beta: 0.8 + 0.05*float64(i)})
	}
	md.bars = testutil.Bars(dates, prices, 2_000_000)
	return md, dates
}

type capturePublisher struct {
	mu        sync.Mutex
	orders    []models.OrderTicket
	runIDs    []string
	trades    int
	snapshots []models.AccountSnapshot
}

func (p *capturePublisher) PublishOrders(_ context.Context, t []models.OrderTicket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, t...)
	return nil
}

func (p *capturePublisher) PublishTrades(_ context.Context, runID string, trades []models.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runIDs = append(p.runIDs, runID)
	p.trades += len(trades)
	return nil
}

func (p *capturePublisher) PublishSnapshot(_ context.Context, s models.AccountSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
	return nil
}

func (p *capturePublisher) PublishMessage(context.Context, string, interface{}) error { return nil }

func (p *capturePublisher) Close() error { return nil }

func newPipeline(t *testing.T, cfg *config.Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	return p
}

func TestPipelineSentinels(t *testing.T) {
	ctx := context.Background()
	md, _ := fixture(300)
	h := features.BuildHistory(md.bars, md.meta, nil)

	cfg := config.Default()
	_, err := newPipeline(t, cfg).Run(ctx, features.BuildHistory(nil, nil, nil), nil)
	assert.ErrorIs(t, err, models.ErrMarketDataGap)

	cfg = config.Default()
	cfg.Sleeves.XSecQV.Enabled = false
	cfg.Sleeves.IntradayRev.Enabled = false
	_, err = newPipeline(t, cfg).Run(ctx, h, nil)
	assert.ErrorIs(t, err, models.ErrNoActiveSleeves)

	cfg = config.Default()
	cfg.Sleeves.Carry.Enabled = true
	_, err = newPipeline(t, cfg).Run(ctx, h, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestPipelineWeightsCoverHistory(t *testing.T) {
	md, dates := fixture(320)
	h := features.BuildHistory(md.bars, md.meta, nil)

	res, err := newPipeline(t, config.Default()).Run(context.Background(), h, nil)
	require.NoError(t, err)
	require.Equal(t, dates, res.Weights.Dates)
	assert.ElementsMatch(t, fixtureSymbols, res.Weights.Symbols)
	assert.Contains(t, res.Sleeves, string(config.SleeveIntradayRev))
	for _, row := range res.Weights.Values {
		for _, w := range row {
			assert.True(t, features.IsFinite(w))
		}
	}
	assert.Len(t, res.Latest(), len(fixtureSymbols))
}

func TestPipelineStaysFlatWithoutMomentumHistory(t *testing.T) {
	md, _ := fixture(100)
	h := features.BuildHistory(md.bars, md.meta, nil)
	cfg := config.Default()
	cfg.Sleeves.IntradayRev.Enabled = false

	res, err := newPipeline(t, cfg).Run(context.Background(), h, nil)
	require.NoError(t, err)
	row := res.Weights.Row(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC))
	require.GreaterOrEqual(t, row, 0)
	for _, s := range fixtureSymbols {
		assert.Equal(t, 0.0, res.Weights.At(row, s), s)
	}
}

func TestPipelineHonoursCancellation(t *testing.T) {
	md, _ := fixture(120)
	h := features.BuildHistory(md.bars, md.meta, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newPipeline(t, config.Default()).Run(ctx, h, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHistoryLoaderUniverseAndSession(t *testing.T) {
	md, dates := fixture(30)
	day := dates[10]
	md.intraday = []models.PriceBar{
		{Date: day.Add(14 * time.Hour), Symbol: "S1", Close: 10, Volume: 1},
		{Date: day.Add(14*time.Hour + 5*time.Minute), Symbol: "S1", Close: 11, Volume: 1},
		{Date: day.Add(15 * time.Hour), Symbol: "S2", Close: 20, Volume: 1},
		{Date: day.AddDate(0, 0, 1).Add(14 * time.Hour), Symbol: "S1", Close: 12, Volume: 1},
	}
	ctx := context.Background()

	l := NewHistoryLoader(md, nil, nil)
	h, err := l.Load(ctx, dates[0], dates[29])
	require.NoError(t, err)
	assert.Equal(t, fixtureSymbols, h.Symbols())
	assert.Equal(t, dates, h.Dates())

	only := NewHistoryLoader(md, []string{"S3"}, nil)
	h, err = only.Trailing(ctx, dates[29], 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"S3"}, h.Symbols())
	assert.Equal(t, 6, h.Close.Len())

	sess, err := l.Session(ctx, []string{"S1", "S2"}, day, domrepo.TF5m)
	require.NoError(t, err)
	assert.Len(t, sess["S1"], 2)
	assert.Len(t, sess["S2"], 1)
}

func TestBacktestRunnerWindowAndPublish(t *testing.T) {
	md, dates := fixture(420)
	cfg := config.Default()
	cfg.Backtest.PublishTrades = true
	pub := &capturePublisher{}
	runner := NewBacktestRunner(cfg, NewHistoryLoader(md, nil, nil), newPipeline(t, cfg), pub, nil, nil)

	from, to := dates[300], dates[419]
	report, err := runner.Run(context.Background(), from, to, 250_000)
	require.NoError(t, err)

	res := report.Result
	assert.Equal(t, dates[300:], res.Dates)
	require.Len(t, res.Equity, len(res.Dates))
	for _, v := range res.Equity {
		assert.False(t, math.IsNaN(v))
	}
	for _, tr := range res.Trades {
		assert.False(t, tr.Date.Before(from), "no trade before the window")
	}
	assert.Equal(t, []string{res.RunID}, pub.runIDs)
	assert.Equal(t, len(res.Trades), pub.trades)
	assert.NotNil(t, report.Regime)
}

func TestBacktestRunnerErrors(t *testing.T) {
	md, dates := fixture(60)
	cfg := config.Default()
	cfg.Data.HistoryDays = 30
	runner := NewBacktestRunner(cfg, NewHistoryLoader(md, nil, nil), newPipeline(t, cfg), nil, nil, nil)
	ctx := context.Background()

	_, err := runner.Run(ctx, dates[10], dates[5], 0)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = runner.Run(ctx, dates[59].AddDate(1, 0, 0), dates[59].AddDate(1, 1, 0), 0)
	assert.ErrorIs(t, err, models.ErrMarketDataGap)
	assert.True(t, IsClientError(err))
	assert.False(t, IsClientError(errors.New("clickhouse down")))
}

type recordingQueue struct {
	jobs    []string
	payload []interface{}
}

func (q *recordingQueue) RegisterJob(job queue.Job) { q.jobs = append(q.jobs, job.Type()) }

func (q *recordingQueue) Start() error { return nil }

func (q *recordingQueue) Stop(context.Context) error { return nil }

func (q *recordingQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.payload = append(q.payload, payload)
	return "msg-1", nil
}

func TestBacktestJobsLifecycle(t *testing.T) {
	md, dates := fixture(420)
	cfg := config.Default()
	runner := NewBacktestRunner(cfg, NewHistoryLoader(md, nil, nil), newPipeline(t, cfg), nil, nil, nil)
	q := &recordingQueue{}
	store := cache.NewMemoryCache()
	jobs := NewBacktestJobs(runner, q, store, time.Hour, nil)
	assert.Equal(t, []string{BacktestJobType}, q.jobs)
	ctx := context.Background()

	job, err := jobs.Submit(ctx, dates[300], dates[419], 100_000)
	require.NoError(t, err)
	require.Len(t, q.payload, 1)

	got, err := jobs.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BacktestQueued, got.Status)

	b, err := json.Marshal(q.payload[0])
	require.NoError(t, err)
	require.NoError(t, jobs.Handle(ctx, b))

	got, err = jobs.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BacktestDone, got.Status)
	require.NotNil(t, got.Summary)
	require.NotNil(t, got.FinishedAt)
	assert.Len(t, got.Equity, 120)

	_, err = jobs.Status(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = jobs.Submit(ctx, dates[10], dates[10], 1)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestBacktestJobFailureIsRecorded(t *testing.T) {
	cfg := config.Default()
	runner := NewBacktestRunner(cfg, NewHistoryLoader(&memMarketData{}, nil, nil), newPipeline(t, cfg), nil, nil, nil)
	store := cache.NewMemoryCache()
	jobs := NewBacktestJobs(runner, &recordingQueue{}, store, time.Hour, nil)
	ctx := context.Background()

	job := models.BacktestJob{ID: "job-1", From: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)}
	b, _ := json.Marshal(job)
	require.NoError(t, jobs.Handle(ctx, b), "client errors are not retried")

	got, err := jobs.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.BacktestFailed, got.Status)
	assert.Contains(t, got.Error, "market data")
}

func TestGovernorDrawdown(t *testing.T) {
	g := NewGovernor(config.GovernanceConfig{DDCut: 0.1})
	assert.Empty(t, g.Observe(100))
	assert.Empty(t, g.Observe(110))
	assert.Empty(t, g.Observe(100))
	assert.Equal(t, "drawdown", g.Observe(98))
	assert.Empty(t, g.Observe(0), "non-positive equity is ignored")
}

func TestGovernorLossSigma(t *testing.T) {
	g := NewGovernor(config.GovernanceConfig{LossSigmaCut: 3})
	eq := 100.0
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			eq *= 1.001
		} else {
			eq *= 0.999
		}
		assert.Empty(t, g.Observe(eq))
	}
	assert.Equal(t, "loss_sigma", g.Observe(eq*0.97))
}

func TestLiveCycleStopLossAndPnLLog(t *testing.T) {
	md, dates := fixture(320)
	cfg := config.Default()
	cfg.Live.StopLossPLPC = -0.1
	cfg.Live.PnLLog = filepath.Join(t.TempDir(), "pnl", "live.csv")

	last := lastPrices(features.BuildHistory(md.bars, md.meta, nil))
	paper := broker.NewPaper(100_000)
	paper.Mark(last)
	limit := last["S0"] * 2
	_, err := paper.Submit(context.Background(), []models.OrderTicket{
		{Symbol: "S0", Quantity: 10, Side: models.SideBuy, Type: models.OrderTypeLimit, LimitPrice: &limit},
	})
	require.NoError(t, err)

	pub := &capturePublisher{}
	asOf := dates[len(dates)-1].Add(20 * time.Hour)
	trader := NewLiveTrader(cfg, NewHistoryLoader(md, nil, nil), newPipeline(t, cfg), paper,
		WithPublisher(pub),
		WithClock(func() time.Time { return asOf }),
	)

	report, err := trader.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.RiskExits, 1)
	exit := report.RiskExits[0]
	assert.Equal(t, "S0", exit.Symbol)
	assert.Equal(t, "stop_loss", exit.Reason)
	assert.Equal(t, models.SideSell, exit.Side)
	assert.Equal(t, 10.0, exit.Quantity)
	for _, tk := range report.Submitted[1:] {
		assert.NotEqual(t, "S0", tk.Symbol, "risk symbols are not rebalanced")
	}

	acct, err := paper.Account(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, acct.Positions, "S0")

	require.Len(t, pub.snapshots, 1)
	assert.Equal(t, "paper", pub.snapshots[0].Broker)
	assert.InDelta(t, report.Equity, pub.snapshots[0].Equity, 1e-9)

	b, err := os.ReadFile(cfg.Live.PnLLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,equity,cash", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], asOf.Format(time.RFC3339)+","))
}

func TestLiveCycleGovernanceFlattens(t *testing.T) {
	md, dates := fixture(320)
	cfg := config.Default()
	cfg.Live.PnLLog = ""
	gov := NewGovernor(config.GovernanceConfig{DDCut: 0.05})
	gov.Observe(1_000_000)

	asOf := dates[len(dates)-1].Add(20 * time.Hour)
	trader := NewLiveTrader(cfg, NewHistoryLoader(md, nil, nil), newPipeline(t, cfg), broker.NewPaper(100_000),
		WithClock(func() time.Time { return asOf }),
	)
	trader.gov = gov

	report, err := trader.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "drawdown", report.Breach)
	assert.Empty(t, report.Submitted, "flat book with zero targets trades nothing")
}

func TestQuoteBookKeepsNewest(t *testing.T) {
	book := NewQuoteBook(time.Minute)
	now := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	book.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, book.Process(ctx, &models.Quote{Symbol: "AAA", Price: 10, Timestamp: now.Add(-10 * time.Second)}))
	require.NoError(t, book.Process(ctx, &models.Quote{Symbol: "AAA", Price: 9, Timestamp: now.Add(-20 * time.Second)}))
	require.NoError(t, book.Process(ctx, &models.Quote{Symbol: "BBB", Price: 5, Timestamp: now.Add(-2 * time.Minute)}))

	assert.Equal(t, map[string]float64{"AAA": 10}, book.Prices())
}

type fakeStorage struct {
	stored []models.PriceBar
	err    error
}

func (s *fakeStorage) Init(context.Context) error { return nil }
func (s *fakeStorage) StoreBars(_ context.Context, bars []models.PriceBar) error {
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, bars...)
	return nil
}
func (s *fakeStorage) StoreFundamentals(context.Context, []models.Fundamentals) error { return nil }
func (s *fakeStorage) StoreMeta(context.Context, []models.SymbolMeta) error           { return nil }
func (s *fakeStorage) Health(context.Context) error                                   { return nil }
func (s *fakeStorage) Close() error                                                   { return nil }

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.n++
	return nil
}

func TestBarIngestHandler(t *testing.T) {
	st := &fakeStorage{}
	inv := &countingInvalidator{}
	h := NewBarIngestHandler("bars", st, inv, nil, nil)
	assert.Equal(t, "bars", h.Topic())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"date":"2024-05-01T00:00:00Z","symbol":"AAA","open":1,"high":2,"low":1,"close":2,"volume":10}`)))
	require.NoError(t, h.Handle(ctx, []byte(` [{"date":"2024-05-02T00:00:00Z","symbol":"AAA","close":3},{"symbol":"","close":1}]`)))
	require.Len(t, st.stored, 2)
	assert.Equal(t, 3.0, st.stored[1].Close)
	assert.Equal(t, 2, inv.n)

	require.NoError(t, h.Handle(ctx, []byte(`[{"symbol":"BAD","close":-1}]`)), "all-invalid batches are dropped")
	assert.Equal(t, 2, inv.n)

	assert.Error(t, h.Handle(ctx, []byte(`{`)))

	st.err = errors.New("insert failed")
	assert.Error(t, h.Handle(ctx, []byte(`{"date":"2024-05-03T00:00:00Z","symbol":"AAA","close":3}`)))
}
