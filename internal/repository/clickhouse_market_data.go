package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgch "FinAlloc/pkg/clickhouse"
	applogger "FinAlloc/pkg/logger"
)

// CHMarketData implements MarketData and BarStorage backed by ClickHouse.
type CHMarketData struct {
	ch *pkgch.Client
	db string
	l  *applogger.Logger
}

func NewCHMarketData(ch *pkgch.Client, database string, l *applogger.Logger) *CHMarketData {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHMarketData{ch: ch, db: database, l: l.Component("clickhouse_market_data")}
}

func (s *CHMarketData) table(name string) string { return s.db + "." + name }

func (s *CHMarketData) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, pkgch.Schema(s.db))
}

func (s *CHMarketData) Bars(ctx context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error) {
	const qtpl = `
        SELECT date, symbol, open, high, low, close, adj_close, volume
        FROM %s FINAL
        WHERE symbol IN (?) AND date >= ? AND date <= ?
        ORDER BY date ASC, symbol ASC
    `
	return s.queryBars(ctx, fmt.Sprintf(qtpl, s.table(pkgch.TableDailyBars)), "bars", symbols, from, to)
}

func (s *CHMarketData) IntradayBars(ctx context.Context, symbols []string, from, to time.Time, tf domrepo.Timeframe) ([]models.PriceBar, error) {
	table, col, err := tableForTF(tf)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT %[2]s, symbol, open, high, low, close, adj_close, volume
        FROM %[1]s FINAL
        WHERE symbol IN (?) AND %[2]s >= ? AND %[2]s <= ?
        ORDER BY %[2]s ASC, symbol ASC
    `
	return s.queryBars(ctx, fmt.Sprintf(qtpl, s.table(table), col), "intraday_bars", symbols, from, to)
}

func (s *CHMarketData) queryBars(ctx context.Context, q, op string, symbols []string, from, to time.Time) ([]models.PriceBar, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := s.ch.DB().QueryContext(ctx, q, symbols, from, to)
	if err != nil {
		s.l.Error("clickhouse query error", applogger.String("op", op), applogger.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.PriceBar, 0, 1024)
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Date, &b.Symbol, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume); err != nil {
			s.l.Error("clickhouse scan error", applogger.String("op", op), applogger.Error(err))
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse query ok",
		applogger.String("op", op),
		applogger.Int("symbols", len(symbols)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHMarketData) Fundamentals(ctx context.Context, symbols []string) ([]models.Fundamentals, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
        SELECT date, symbol, net_income, total_assets, gross_profit, total_revenue, operating_cash_flow, shareholders_equity
        FROM %s FINAL
        WHERE symbol IN (?)
        ORDER BY date ASC, symbol ASC
    `, s.table(pkgch.TableFundamentals))
	rows, err := s.ch.DB().QueryContext(ctx, q, symbols)
	if err != nil {
		return nil, fmt.Errorf("fundamentals: %w", err)
	}
	defer rows.Close()

	var out []models.Fundamentals
	for rows.Next() {
		var (
			f    models.Fundamentals
			vals [6]sql.NullFloat64
		)
		if err := rows.Scan(&f.Date, &f.Symbol, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5]); err != nil {
			return nil, fmt.Errorf("scan fundamentals: %w", err)
		}
		f.NetIncome = nullFloat(vals[0])
		f.TotalAssets = nullFloat(vals[1])
		f.GrossProfit = nullFloat(vals[2])
		f.TotalRevenue = nullFloat(vals[3])
		f.OperatingCashFlow = nullFloat(vals[4])
		f.ShareholdersEquity = nullFloat(vals[5])
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *CHMarketData) Meta(ctx context.Context) ([]models.SymbolMeta, error) {
	q := fmt.Sprintf("SELECT symbol, sector, beta FROM %s FINAL ORDER BY symbol", s.table(pkgch.TableSymbolMeta))
	rows, err := s.ch.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("symbol meta: %w", err)
	}
	defer rows.Close()

	var out []models.SymbolMeta
	for rows.Next() {
		var m models.SymbolMeta
		if err := rows.Scan(&m.Symbol, &m.Sector, &m.Beta); err != nil {
			return nil, fmt.Errorf("scan symbol meta: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StoreBars routes each bar to the daily or intraday table by its timestamp:
// bars stamped at midnight UTC are daily.
func (s *CHMarketData) StoreBars(ctx context.Context, bars []models.PriceBar) error {
	var daily, minute [][]interface{}
	for _, b := range bars {
		if b.Symbol == "" || b.Date.IsZero() {
			continue
		}
		row := []interface{}{b.Date.UTC(), b.Symbol, b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume}
		if b.Date.UTC().Truncate(24 * time.Hour).Equal(b.Date.UTC()) {
			daily = append(daily, row)
		} else {
			minute = append(minute, row)
		}
	}
	const qtpl = "INSERT INTO %s (%s, symbol, open, high, low, close, adj_close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	if err := s.ch.InsertBatch(ctx, fmt.Sprintf(qtpl, s.table(pkgch.TableDailyBars), "date"), daily); err != nil {
		s.l.Error("clickhouse store bars error", applogger.Int("rows", len(daily)), applogger.Error(err))
		return fmt.Errorf("store daily bars: %w", err)
	}
	if err := s.ch.InsertBatch(ctx, fmt.Sprintf(qtpl, s.table(pkgch.TableMinuteBars), "ts"), minute); err != nil {
		s.l.Error("clickhouse store bars error", applogger.Int("rows", len(minute)), applogger.Error(err))
		return fmt.Errorf("store minute bars: %w", err)
	}
	return nil
}

func (s *CHMarketData) StoreFundamentals(ctx context.Context, funds []models.Fundamentals) error {
	rows := make([][]interface{}, 0, len(funds))
	for _, f := range funds {
		rows = append(rows, []interface{}{
			f.Date.UTC(), f.Symbol,
			nullable(f.NetIncome), nullable(f.TotalAssets), nullable(f.GrossProfit),
			nullable(f.TotalRevenue), nullable(f.OperatingCashFlow), nullable(f.ShareholdersEquity),
		})
	}
	q := fmt.Sprintf(`INSERT INTO %s (date, symbol, net_income, total_assets, gross_profit, total_revenue, operating_cash_flow, shareholders_equity)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table(pkgch.TableFundamentals))
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("store fundamentals: %w", err)
	}
	return nil
}

func (s *CHMarketData) StoreMeta(ctx context.Context, meta []models.SymbolMeta) error {
	rows := make([][]interface{}, 0, len(meta))
	for _, m := range meta {
		rows = append(rows, []interface{}{m.Symbol, m.Sector, m.Beta})
	}
	q := fmt.Sprintf("INSERT INTO %s (symbol, sector, beta) VALUES (?, ?, ?)", s.table(pkgch.TableSymbolMeta))
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("store symbol meta: %w", err)
	}
	return nil
}

func (s *CHMarketData) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHMarketData) Close() error {
	return nil // client owned by the app
}

// tableForTF returns the bar table and its time column.
func tableForTF(tf domrepo.Timeframe) (string, string, error) {
	switch tf {
	case domrepo.TF1m:
		return pkgch.TableMinuteBars, "ts", nil
	case domrepo.TF5m:
		return pkgch.TableFiveMinBars, "ts", nil
	case domrepo.TF1d:
		return pkgch.TableDailyBars, "date", nil
	default:
		return "", "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

func nullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nullable(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

var (
	_ domrepo.MarketData = (*CHMarketData)(nil)
	_ domrepo.BarStorage = (*CHMarketData)(nil)
)
