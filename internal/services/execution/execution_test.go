package execution

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
)

func TestSlippageCost(t *testing.T) {
	s := NewSlippage(2, 0.9)
	assert.InDelta(t, 1e-4+0.9*math.Pow(1e-6, 1.5), s.Cost(0), 1e-15)
	assert.InDelta(t, 1e-4+0.9*math.Pow(0.01, 1.5), s.Cost(0.01), 1e-15)
	assert.Greater(t, s.Cost(0.1), s.Cost(0.01))
}

func TestReconcileSkipsMissingPrices(t *testing.T) {
	r := NewRouter(NewSlippage(2, 0.9))
	slices := r.Reconcile(
		map[string]float64{"A": 0.1, "B": 0.2, "C": -0.1},
		map[string]float64{"A": 0.05},
		map[string]float64{"A": 10, "B": 0},
	)
	require.Len(t, slices, 1)
	assert.Equal(t, Slice{Symbol: "A", Target: 0.1, Current: 0.05, Price: 10}, slices[0])
}

func TestBuildOrdersBuy(t *testing.T) {
	r := NewRouter(NewSlippage(2, 0.9))
	tickets := r.BuildOrders([]Slice{{Symbol: "A", Target: 0.1, Current: 0, Price: 100}}, 1e5)
	require.Len(t, tickets, 1)
	tk := tickets[0]
	assert.Equal(t, models.SideBuy, tk.Side)
	assert.Equal(t, models.OrderTypeLimit, tk.Type)
	assert.InDelta(t, 100, tk.Quantity, 1e-9)
	require.NotNil(t, tk.LimitPrice)
	assert.Greater(t, *tk.LimitPrice, 100.0)
	assert.NotEmpty(t, tk.ClientID)
}

func TestBuildOrdersSellSplitsCloseAndShort(t *testing.T) {
	r := NewRouter(NewSlippage(2, 0.9))
	// hold 10 shares, sell 25.7 worth: close 10, short floor(15.7)=15
	tickets := r.BuildOrders([]Slice{{Symbol: "A", Target: -0.157, Current: 0.1, Price: 100}}, 1e4)
	require.Len(t, tickets, 1)
	assert.Equal(t, models.SideSell, tickets[0].Side)
	assert.InDelta(t, 25, tickets[0].Quantity, 1e-9)
	assert.Less(t, *tickets[0].LimitPrice, 100.0)
}

func TestBuildOrdersSkipsDust(t *testing.T) {
	r := NewRouter(NewSlippage(2, 0.9))
	tickets := r.BuildOrders([]Slice{
		{Symbol: "TINY", Target: 0.10001, Current: 0.1, Price: 10},
		{Symbol: "FRAC", Target: -0.004, Current: 0, Price: 100},
	}, 1e4)
	assert.Empty(t, tickets, "sub-dollar notional and sub-share new shorts are dropped")
}

func TestMarketClose(t *testing.T) {
	r := NewRouter(NewSlippage(2, 0.9))
	tk := r.MarketClose("A", -12, "stop_loss")
	assert.Equal(t, models.SideBuy, tk.Side)
	assert.Equal(t, 12.0, tk.Quantity)
	assert.Nil(t, tk.LimitPrice)
}
