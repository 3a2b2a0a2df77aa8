package backtest

import (
	"math"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
)

const tradingDays = 252

// DailyReturns is the percentage change of the equity curve.
func DailyReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

func Sharpe(returns []float64) float64 {
	sd := features.Std(returns, 0)
	if len(returns) == 0 || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return math.Sqrt(tradingDays) * features.Mean(returns) / sd
}

func Sortino(returns []float64) float64 {
	// downside deviation: root mean square of the losing days
	var ss float64
	var n int
	for _, r := range returns {
		if r < 0 {
			ss += r * r
			n++
		}
	}
	if n == 0 || ss == 0 {
		return 0
	}
	return math.Sqrt(tradingDays) * features.Mean(returns) / math.Sqrt(ss/float64(n))
}

// MaxDrawdown is the most negative equity/peak - 1.
func MaxDrawdown(equity []float64) float64 {
	var peak, dd float64
	for i, e := range equity {
		if i == 0 || e > peak {
			peak = e
		}
		if peak > 0 {
			dd = math.Min(dd, e/peak-1)
		}
	}
	return dd
}

// VaR is the (1-alpha) quantile of returns.
func VaR(returns []float64, alpha float64) float64 {
	return features.Quantile(returns, 1-alpha)
}

func Summarize(res *models.BacktestResult) models.PerformanceSummary {
	var s models.PerformanceSummary
	if res == nil || len(res.Equity) < 2 {
		return s
	}
	rets := DailyReturns(res.Equity)
	days := res.Dates[len(res.Dates)-1].Sub(res.Dates[0]).Hours() / 24
	if first := res.Equity[0]; first > 0 && days > 0 {
		s.CAGR = math.Pow(res.Equity[len(res.Equity)-1]/first, 365.25/days) - 1
	}
	s.Sharpe = Sharpe(rets)
	s.Sortino = Sortino(rets)
	s.MaxDD = MaxDrawdown(res.Equity)
	s.Calmar = math.NaN()
	if s.MaxDD < 0 {
		s.Calmar = s.CAGR / math.Abs(s.MaxDD)
	}
	s.VaR95 = VaR(rets, 0.95)
	s.VaR99 = VaR(rets, 0.99)
	s.Turnover = turnover(res)
	return s
}

// turnover averages Σ|notional|/equity over dates that traded.
func turnover(res *models.BacktestResult) float64 {
	byDate := make(map[int]float64)
	idx := make(map[int64]int, len(res.Dates))
	for i, d := range res.Dates {
		idx[d.Unix()] = i
	}
	for _, tr := range res.Trades {
		if i, ok := idx[tr.Date.Unix()]; ok {
			byDate[i] += math.Abs(tr.Notional)
		}
	}
	var vals []float64
	for i, n := range byDate {
		if res.Equity[i] > 0 {
			vals = append(vals, n/res.Equity[i])
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return features.Mean(vals)
}
