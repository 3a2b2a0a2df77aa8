package models

import "time"

// PriceBar is one daily OHLCV observation for a symbol.
type PriceBar struct {
	Date     time.Time `json:"date"`
	Symbol   string    `json:"symbol"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   float64   `json:"volume"`
}

// Adjusted returns the adjusted close, falling back to close when it is not set.
func (b PriceBar) Adjusted() float64 {
	if b.AdjClose > 0 {
		return b.AdjClose
	}
	return b.Close
}

const UnknownSector = "Unknown"

type SymbolMeta struct {
	Symbol string  `json:"symbol"`
	Sector string  `json:"sector"`
	Beta   float64 `json:"beta"`
}

// SectorOrUnknown never returns an empty string.
func (m SymbolMeta) SectorOrUnknown() string {
	if m.Sector == "" {
		return UnknownSector
	}
	return m.Sector
}

// BetaOrDefault treats a zero beta as unknown.
func (m SymbolMeta) BetaOrDefault() float64 {
	if m.Beta == 0 {
		return 1.0
	}
	return m.Beta
}

// Fundamentals is a point-in-time statement snapshot keyed by its report date.
type Fundamentals struct {
	Date               time.Time `json:"date"`
	Symbol             string    `json:"symbol"`
	NetIncome          float64   `json:"net_income"`
	TotalAssets        float64   `json:"total_assets"`
	GrossProfit        float64   `json:"gross_profit"`
	TotalRevenue       float64   `json:"total_revenue"`
	OperatingCashFlow  float64   `json:"operating_cash_flow"`
	ShareholdersEquity float64   `json:"shareholders_equity"`
}

// Quote is the latest trade print seen on the live stream.
type Quote struct {
	Symbol    string    `json:"s"`
	Price     float64   `json:"p"`
	Volume    float64   `json:"v"`
	Timestamp time.Time `json:"t"`
}
