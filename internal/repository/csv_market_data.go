package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/util"
)

// CSVMarketData reads pre-downloaded files from a directory:
//
//	<dir>/<SYMBOL>.csv                   date,open,high,low,close,adj_close,volume
//	<dir>/intraday/<tf>/<SYMBOL>.csv     timestamp,open,high,low,close,volume
//	fundamentals file (default <dir>/fundamentals.csv)
//	universe file                        symbol,sector,beta
type CSVMarketData struct {
	dir          string
	universe     string
	fundamentals string
	l            *applogger.Logger
}

func NewCSVMarketData(dir, universeFile, fundamentalsFile string, l *applogger.Logger) (*CSVMarketData, error) {
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("data dir %q not found: %w", dir, models.ErrConfiguration)
	}
	if universeFile != "" {
		if _, err := os.Stat(universeFile); err != nil {
			return nil, fmt.Errorf("universe file %q not found: %w", universeFile, models.ErrConfiguration)
		}
	}
	if fundamentalsFile == "" {
		fundamentalsFile = filepath.Join(dir, "fundamentals.csv")
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CSVMarketData{
		dir:          dir,
		universe:     universeFile,
		fundamentals: fundamentalsFile,
		l:            l.Component("csv_market_data"),
	}, nil
}

func (s *CSVMarketData) Bars(ctx context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error) {
	var out []models.PriceBar
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := readBarsFile(filepath.Join(s.dir, sym+".csv"), sym, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
	}
	sortBars(out)
	return out, nil
}

// IntradayBars returns nothing for symbols without an intraday file.
func (s *CSVMarketData) IntradayBars(ctx context.Context, symbols []string, from, to time.Time, tf domrepo.Timeframe) ([]models.PriceBar, error) {
	var out []models.PriceBar
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.dir, "intraday", string(tf), sym+".csv")
		bars, err := readBarsFile(path, sym, from, to)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, bars...)
	}
	sortBars(out)
	return out, nil
}

func (s *CSVMarketData) Fundamentals(ctx context.Context, symbols []string) ([]models.Fundamentals, error) {
	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[sym] = true
	}
	var out []models.Fundamentals
	err := readCSV(s.fundamentals, func(rec map[string]string) error {
		sym := strings.ToUpper(rec["symbol"])
		if !want[sym] {
			return nil
		}
		d, ok := util.ParseTime(rec["date"])
		if !ok {
			return fmt.Errorf("fundamentals: bad date %q", rec["date"])
		}
		out = append(out, models.Fundamentals{
			Date:               util.StartOfDay(d),
			Symbol:             sym,
			NetIncome:          util.ParseFloatDefault(rec["net_income"], math.NaN()),
			TotalAssets:        util.ParseFloatDefault(rec["total_assets"], math.NaN()),
			GrossProfit:        util.ParseFloatDefault(rec["gross_profit"], math.NaN()),
			TotalRevenue:       util.ParseFloatDefault(rec["total_revenue"], math.NaN()),
			OperatingCashFlow:  util.ParseFloatDefault(rec["operating_cash_flow"], math.NaN()),
			ShareholdersEquity: util.ParseFloatDefault(rec["shareholders_equity"], math.NaN()),
		})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		s.l.Debug("no fundamentals file", applogger.String("path", s.fundamentals))
		return nil, nil
	}
	return out, err
}

func (s *CSVMarketData) Meta(ctx context.Context) ([]models.SymbolMeta, error) {
	if s.universe == "" {
		return nil, nil
	}
	var out []models.SymbolMeta
	err := readCSV(s.universe, func(rec map[string]string) error {
		out = append(out, models.SymbolMeta{
			Symbol: strings.ToUpper(rec["symbol"]),
			Sector: rec["sector"],
			Beta:   util.ParseFloatDefault(rec["beta"], 0),
		})
		return nil
	})
	return out, err
}

// Symbols lists the symbols with a daily file in the data dir.
func (s *CSVMarketData) Symbols() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if sameFile(m, s.universe) || sameFile(m, s.fundamentals) {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(m), ".csv")
		out = append(out, strings.ToUpper(name))
	}
	sort.Strings(out)
	return out, nil
}

func sameFile(a, b string) bool {
	return b != "" && filepath.Clean(a) == filepath.Clean(b)
}

func readBarsFile(path, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	var out []models.PriceBar
	err := readCSV(path, func(rec map[string]string) error {
		raw := rec["date"]
		if raw == "" {
			raw = rec["timestamp"]
		}
		d, ok := util.ParseTime(raw)
		if !ok {
			return fmt.Errorf("%s: bad date %q", symbol, raw)
		}
		d = d.UTC()
		if d.Before(from) || d.After(to) {
			return nil
		}
		b := models.PriceBar{
			Date:   d,
			Symbol: symbol,
			Open:   util.ParseFloatDefault(rec["open"], math.NaN()),
			High:   util.ParseFloatDefault(rec["high"], math.NaN()),
			Low:    util.ParseFloatDefault(rec["low"], math.NaN()),
			Close:  util.ParseFloatDefault(rec["close"], math.NaN()),
			Volume: util.ParseFloatDefault(rec["volume"], 0),
		}
		b.AdjClose = util.ParseFloatDefault(rec["adj_close"], 0)
		out = append(out, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read bars %s: %w", symbol, err)
	}
	return out, nil
}

// readCSV calls fn for every record keyed by its lower-cased header.
func readCSV(path string, fn func(map[string]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func sortBars(bars []models.PriceBar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Date.Equal(bars[j].Date) {
			return bars[i].Date.Before(bars[j].Date)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
}

var _ domrepo.MarketData = (*CSVMarketData)(nil)
