package service

import "FinAlloc/internal/domain/models"

// RegimeDetector classifies market conditions per date.
type RegimeDetector interface {
	Detect(h *models.History) []models.RegimeState
}

// SlippageModel returns the fractional price concession for a participation rate.
type SlippageModel interface {
	Cost(participation float64) float64
}

// CostModel throttles rebalances whose expected cost exceeds their benefit.
type CostModel interface {
	OptimizeRebalance(target, current, adv map[string]float64, portfolioValue float64) map[string]float64
}
