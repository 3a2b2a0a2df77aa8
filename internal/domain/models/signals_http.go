package models

// Requests for pipeline HTTP endpoints. Dates use YYYY-MM-DD.

type RegimeRequest struct {
	From string `query:"from" json:"from"`
	To   string `query:"to" json:"to"`
	Last int    `query:"last" json:"last" default:"60" validate:"gte=1,lte=5000"`
}

type BreadthRequest struct {
	From    string  `query:"from" json:"from"`
	To      string  `query:"to" json:"to"`
	RiskOff float64 `query:"risk_off" json:"risk_off" default:"0.45" validate:"gte=0,lte=1"`
	RiskOn  float64 `query:"risk_on" json:"risk_on" default:"0.6" validate:"gte=0,lte=1,gtfield=RiskOff"`
}

type TargetsRequest struct {
	AsOf string `query:"asof" json:"asof"`
}

type BacktestRequest struct {
	From          string  `json:"from" validate:"required"`
	To            string  `json:"to" validate:"required"`
	InitialEquity float64 `json:"initial_equity" default:"1000000" validate:"gt=0"`
}

type BacktestStatusRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}
