package models

import "time"

type RegimeLabel string

const (
	RegimeRiskOn     RegimeLabel = "risk_on"
	RegimeRiskOff    RegimeLabel = "risk_off"
	RegimeVolatile   RegimeLabel = "volatile"
	RegimeTransition RegimeLabel = "transition"
	RegimeNeutral    RegimeLabel = "neutral"
)

// RegimeState is the market condition for one date with the sleeve scales it implies.
type RegimeState struct {
	Date               time.Time   `json:"date"`
	Label              RegimeLabel `json:"label"`
	Score              float64     `json:"score"`
	MomentumScale      float64     `json:"momentum_scale"`
	MeanReversionScale float64     `json:"mean_reversion_scale"`
	Breadth            float64     `json:"breadth"`
	Vol                float64     `json:"vol"`
	Corr               float64     `json:"corr"`
	Dispersion         float64     `json:"dispersion"`
}

// BreadthAllocation is the sleeve mix selected by the breadth threshold model.
type BreadthAllocation struct {
	Date    time.Time          `json:"date"`
	Breadth float64            `json:"breadth"`
	Label   RegimeLabel        `json:"label"`
	Weights map[string]float64 `json:"weights"`
}
