package models

import (
	"math"
	"time"
)

type BacktestResult struct {
	RunID     string               `json:"run_id"`
	Dates     []time.Time          `json:"dates"`
	Equity    []float64            `json:"equity"`
	Cash      []float64            `json:"cash"`
	PnL       []float64            `json:"pnl"`
	Positions []map[string]float64 `json:"positions,omitempty"`
	Trades    []Trade              `json:"trades,omitempty"`
}

type PerformanceSummary struct {
	CAGR     float64 `json:"cagr"`
	Sharpe   float64 `json:"sharpe"`
	Sortino  float64 `json:"sortino"`
	MaxDD    float64 `json:"max_drawdown"`
	Calmar   float64 `json:"calmar"`
	VaR95    float64 `json:"var_95"`
	VaR99    float64 `json:"var_99"`
	Turnover float64 `json:"turnover"`
}

// Finite replaces undefined ratios with zero so the summary can be JSON encoded.
func (s PerformanceSummary) Finite() PerformanceSummary {
	for _, f := range []*float64{&s.CAGR, &s.Sharpe, &s.Sortino, &s.MaxDD, &s.Calmar, &s.VaR95, &s.VaR99, &s.Turnover} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return s
}

type BacktestStatus string

const (
	BacktestQueued  BacktestStatus = "queued"
	BacktestRunning BacktestStatus = "running"
	BacktestDone    BacktestStatus = "done"
	BacktestFailed  BacktestStatus = "failed"
)

// BacktestJob is the queued request and, once finished, its outcome.
type BacktestJob struct {
	ID            string              `json:"id"`
	From          time.Time           `json:"from"`
	To            time.Time           `json:"to"`
	InitialEquity float64             `json:"initial_equity"`
	Status        BacktestStatus      `json:"status"`
	Error         string              `json:"error,omitempty"`
	Summary       *PerformanceSummary `json:"summary,omitempty"`
	Dates         []time.Time         `json:"dates,omitempty"`
	Equity        []float64           `json:"equity,omitempty"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	FinishedAt    *time.Time          `json:"finished_at,omitempty"`
}
