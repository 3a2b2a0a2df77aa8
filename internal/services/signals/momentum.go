package signals

import (
	"fmt"
	"math"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
)

const tradingDaysPerMonth = 21

// Timeframe is one momentum lookback and its blend weight.
type Timeframe struct {
	Months int
	Weight float64
}

func DefaultTimeframes() []Timeframe {
	return []Timeframe{{Months: 3, Weight: 0.25}, {Months: 6, Weight: 0.35}, {Months: 12, Weight: 0.40}}
}

type MomentumConfig struct {
	Timeframes      []Timeframe
	SkipRecentMonth bool
	QualityFilter   bool
}

// MultiTimeframeMomentum ranks symbols on a weighted blend of momentum horizons.
type MultiTimeframeMomentum struct {
	cfg MomentumConfig
}

func NewMultiTimeframeMomentum(cfg MomentumConfig) (*MultiTimeframeMomentum, error) {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = DefaultTimeframes()
	}
	var sum float64
	for _, tf := range cfg.Timeframes {
		if tf.Months <= 0 {
			return nil, fmt.Errorf("momentum timeframe months must be positive, got %d: %w", tf.Months, models.ErrConfiguration)
		}
		sum += tf.Weight
	}
	if math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("momentum timeframe weights sum to %.6f, want 1: %w", sum, models.ErrConfiguration)
	}
	return &MultiTimeframeMomentum{cfg: cfg}, nil
}

// Momentum is price[t-skip]/price[t-skip-lookback] - 1 for one timeframe,
// optionally scaled by the trailing return quality ratio.
func (m *MultiTimeframeMomentum) Momentum(prices *models.Frame, tf Timeframe) *models.Frame {
	skip := 0
	if m.cfg.SkipRecentMonth {
		skip = tradingDaysPerMonth
	}
	lookback := tf.Months * tradingDaysPerMonth
	mom := features.MapColumns(prices, func(x []float64) []float64 {
		recent := features.Shift(x, skip)
		past := features.Shift(x, skip+lookback)
		out := features.NaNSeries(len(x))
		for i := range x {
			if past[i] == 0 || math.IsNaN(past[i]) || math.IsNaN(recent[i]) {
				continue
			}
			out[i] = recent[i]/past[i] - 1
		}
		return out
	})
	if !m.cfg.QualityFilter {
		return mom
	}
	quality := features.MapColumns(features.FramePctChange(prices), func(r []float64) []float64 {
		mean := features.RollingMean(r, lookback, lookback/2)
		std := features.RollingStd(r, lookback, lookback/2, 0)
		out := features.NaNSeries(len(r))
		for i := range r {
			if std[i] == 0 || math.IsNaN(std[i]) {
				continue
			}
			out[i] = features.NaNIfNotFinite(mean[i] / std[i])
		}
		return out
	})
	return features.Combine(mom, quality, func(x, q float64) float64 { return x * q })
}

// Ranks blends per-timeframe percentile ranks and re-ranks the blend. Cells
// with no opinion are 0.
func (m *MultiTimeframeMomentum) Ranks(prices *models.Frame) *models.Frame {
	combined := models.NewFrame(prices.Dates, prices.Symbols)
	for _, tf := range m.cfg.Timeframes {
		ranked := features.FrameRankPct(m.Momentum(prices, tf))
		for i, row := range ranked.Values {
			for j, v := range row {
				if math.IsNaN(v) {
					continue
				}
				if math.IsNaN(combined.Values[i][j]) {
					combined.Values[i][j] = 0
				}
				combined.Values[i][j] += v * tf.Weight
			}
		}
	}
	return features.FrameRankPct(combined).FillNaN(0)
}

// CrashScale shrinks sizing when cross-sectional realized volatility is high
// relative to its trailing year. The result lies in [0.4, 1].
func CrashScale(returns *models.Frame) []float64 {
	realized := features.RowMean(features.FrameRollingStd(returns, 60, 30, 0))
	mean := features.RollingMean(realized, 252, 63)
	std := features.RollingStd(realized, 252, 63, 0)
	out := make([]float64, len(realized))
	for i := range realized {
		z := 0.0
		if std[i] > 0 && !math.IsNaN(realized[i]) && !math.IsNaN(mean[i]) {
			z = features.Clip((realized[i]-mean[i])/std[i], -3, 3)
		}
		out[i] = features.Clip(1-math.Max(z, 0)/3*0.6, 0.4, 1)
	}
	return out
}
