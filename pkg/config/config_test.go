package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "backtest", c.Mode)
	assert.Equal(t, 2.0, c.Costs.SpreadBps)
	assert.Equal(t, 0.9, c.Costs.ImpactK)
	assert.Equal(t, 0.12, c.Governance.DDCut)
	assert.Equal(t, "D", c.Sleeves.IntradayRev.Rebalance)
	assert.Equal(t, "M", c.Sleeves.XSecQV.Rebalance)
	assert.Equal(t, []SleeveID{SleeveXSecQV, SleeveIntradayRev}, c.Sleeves.Enabled())
	assert.Len(t, c.Sleeves.XSecQV.Timeframes, 3)
	assert.InDelta(t, 30.0/1e4/21, c.Costs.BorrowDaily(), 1e-15)
}

func TestParseKeepsExplicitFalse(t *testing.T) {
	c, err := Parse([]byte(`
portfolio:
  beta_neutral: false
sleeves:
  D_intraday_rev:
    enabled: false
`))
	require.NoError(t, err)
	assert.False(t, c.Portfolio.BetaNeutral)
	assert.True(t, c.Portfolio.SectorNeutral)
	assert.Equal(t, []SleeveID{SleeveXSecQV}, c.Sleeves.Enabled())
}

func TestParseLookbackMonths(t *testing.T) {
	c, err := Parse([]byte(`
sleeves:
  C_xsec_qv:
    lookback_mom_months: 9
`))
	require.NoError(t, err)
	require.Len(t, c.Sleeves.XSecQV.Timeframes, 1)
	assert.Equal(t, 9, c.Sleeves.XSecQV.Timeframes[0].Months)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown mode":       "mode: paper\n",
		"bad sizing":         "portfolio:\n  sizing: mvo\n",
		"weights":            "sleeves:\n  C_xsec_qv:\n    timeframes:\n      - {months: 3, weight: 0.5}\n",
		"thresholds":         "regime:\n  breadth_thresholds: {risk_off: 0.7, risk_on: 0.6}\n",
		"missing threshold":  "regime:\n  breadth_thresholds: {risk_on: 0.6}\n",
		"reserved sleeve":    "sleeves:\n  A_tsmom:\n    enabled: true\n",
		"trade band":         "costs:\n  min_trade_bps: 60\n  max_trade_bps: 50\n",
		"gateway no brokers": "mode: live\nlive:\n  broker: gateway\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: backtest\n"), 0o644))

	t.Setenv("FINALLOC_MODE", "serve")
	t.Setenv("SYMBOLS", "AAA,BBB")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "serve", c.Mode)
	assert.Equal(t, []string{"AAA", "BBB"}, c.Data.Symbols)
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.85, c.Sleeves.XSecQV.RiskBudget)
	assert.Equal(t, 0.6, c.Regime.BaseAllocations["risk_off"]["C_xsec_qv"])
}
