package models

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderTicket is the broker-agnostic order contract. Quantity is always positive.
type OrderTicket struct {
	ClientID   string    `json:"client_id"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"qty"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	LimitPrice *float64  `json:"limit_price,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SignedQty is positive for buys and negative for sells.
func (o OrderTicket) SignedQty() float64 {
	if o.Side == SideSell {
		return -o.Quantity
	}
	return o.Quantity
}

// Trade is a simulated or reported fill. Quantity is signed.
type Trade struct {
	Date     time.Time `json:"date"`
	Symbol   string    `json:"symbol"`
	Quantity float64   `json:"qty"`
	Price    float64   `json:"price"`
	Notional float64   `json:"notional"`
	Sleeve   string    `json:"sleeve"`
}

type BrokerPosition struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	AvgPrice       float64 `json:"avg_price"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
}

// AccountSnapshot is the broker's view of cash and holdings.
type AccountSnapshot struct {
	Broker      string                    `json:"broker"`
	Timestamp   time.Time                 `json:"timestamp"`
	Cash        float64                   `json:"cash"`
	Equity      float64                   `json:"equity"`
	BuyingPower float64                   `json:"buying_power"`
	Positions   map[string]BrokerPosition `json:"positions"`
	CashKnown   bool                      `json:"cash_known"`
}
