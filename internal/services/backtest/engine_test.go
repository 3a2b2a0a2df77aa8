package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/execution"
	"FinAlloc/internal/services/features"
	"FinAlloc/internal/testutil"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flatHistory(dates []time.Time, symbols []string, open, close float64) *models.History {
	var bars []models.PriceBar
	for _, d := range dates {
		for _, s := range symbols {
			bars = append(bars, models.PriceBar{Date: d, Symbol: s, Open: open, High: close, Low: open, Close: close, AdjClose: close, Volume: 1e6})
		}
	}
	return features.BuildHistory(bars, nil, nil)
}

func TestEngineSingleSymbolTradesAtSlippedOpen(t *testing.T) {
	dates := testutil.BusinessDays(start, 5)
	h := flatHistory(dates, []string{"AAA"}, 100, 102)
	target := models.ZeroFrame(dates, []string{"AAA"})
	for i := range dates {
		target.Values[i][0] = 0.1
	}
	slip := execution.NewSlippage(2, 0.9)
	eng := NewEngine(Config{InitialEquity: 1e6, BorrowBpsMonth: 30}, slip)

	res := eng.Run(h, map[string]*models.Frame{"C_xsec_qv": target})
	require.NotEmpty(t, res.Trades)
	first := res.Trades[0]
	assert.Equal(t, dates[0], first.Date)
	assert.InDelta(t, 100*(1+slip.Cost(0.1)), first.Price, 1e-9)
	assert.Equal(t, AggregateSleeve, first.Sleeve)
	assert.NotEqual(t, 1e6, res.Equity[0])
	assert.NotEqual(t, res.Equity[0], res.Equity[1])
	assert.Equal(t, 0.0, res.PnL[0])
}

func TestEngineLedgerIdentity(t *testing.T) {
	dates := testutil.BusinessDays(start, 30)
	prices := map[string]testutil.PriceFunc{
		"AAA": testutil.Wave(100, 0.2, 2, 7, 0),
		"BBB": testutil.Wave(50, -0.1, 1, 5, 1),
		"CCC": testutil.Wave(20, 0.05, 0.5, 9, 2),
	}
	h := features.BuildHistory(testutil.Bars(dates, prices, 1e6), nil, nil)
	target := models.ZeroFrame(dates, h.Symbols())
	for i := range dates {
		target.Set(i, "AAA", 0.3*math.Sin(float64(i)))
		target.Set(i, "BBB", -0.2)
		target.Set(i, "CCC", 0.1*float64(i%3))
	}
	eng := NewEngine(DefaultConfig(), execution.NewSlippage(2, 0.9))
	res := eng.Run(h, map[string]*models.Frame{"C": target})

	for i := range dates {
		mtm := res.Cash[i]
		for s, q := range res.Positions[i] {
			mtm += q * h.Close.At(i, s)
		}
		assert.InDelta(t, res.Equity[i], mtm, 1e-6, "date %d", i)
		if i > 0 {
			assert.InDelta(t, res.Equity[i]-res.Equity[i-1], res.PnL[i], 1e-9)
		}
	}
}

func TestEngineBorrowDebitsShorts(t *testing.T) {
	dates := testutil.BusinessDays(start, 3)
	h := flatHistory(dates, []string{"AAA"}, 100, 100)
	target := models.ZeroFrame(dates, []string{"AAA"})
	for i := range dates {
		target.Values[i][0] = -0.5
	}
	noSlip := execution.NewSlippage(0, 0)
	withBorrow := NewEngine(Config{InitialEquity: 1e5, BorrowBpsMonth: 30}, noSlip).Run(h, map[string]*models.Frame{"D": target})
	free := NewEngine(Config{InitialEquity: 1e5, BorrowBpsMonth: 0}, noSlip).Run(h, map[string]*models.Frame{"D": target})

	assert.Less(t, withBorrow.Equity[2], free.Equity[2])
}

func TestEngineMissingRowsMeanFlat(t *testing.T) {
	dates := testutil.BusinessDays(start, 4)
	h := flatHistory(dates, []string{"AAA"}, 100, 100)
	monthly := models.ZeroFrame(dates[:1], []string{"AAA"})
	monthly.Values[0][0] = 0.2

	res := NewEngine(Config{InitialEquity: 1e5}, execution.NewSlippage(0, 0)).Run(h, map[string]*models.Frame{"C": monthly})
	require.Len(t, res.Trades, 2)
	assert.Greater(t, res.Trades[0].Quantity, 0.0)
	assert.Less(t, res.Trades[1].Quantity, 0.0)
	assert.InDelta(t, 0, res.Positions[1]["AAA"], 1e-9)
}

func TestSummarize(t *testing.T) {
	dates := testutil.BusinessDays(start, 5)
	res := &models.BacktestResult{
		Dates:  dates,
		Equity: []float64{100, 110, 99, 108.9, 119.79},
		Trades: []models.Trade{{Date: dates[0], Notional: 50}, {Date: dates[0], Notional: -30}},
	}
	s := Summarize(res)
	assert.InDelta(t, -0.1, s.MaxDD, 1e-12)
	assert.Greater(t, s.Sharpe, 0.0)
	assert.Greater(t, s.Sortino, 0.0)
	assert.InDelta(t, 0.8, s.Turnover, 1e-12)
	assert.InEpsilon(t, s.CAGR/0.1, s.Calmar, 1e-9)
	assert.LessOrEqual(t, s.VaR99, s.VaR95)

	flat := Summarize(&models.BacktestResult{Dates: dates[:2], Equity: []float64{1, 1}})
	assert.True(t, math.IsNaN(flat.Calmar))
	assert.Equal(t, 0.0, flat.Sharpe)
}
