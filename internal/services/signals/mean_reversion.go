package signals

import (
	"math"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
)

type MeanReversionConfig struct {
	Lookback    int
	ZThreshold  float64
	MinObs      int
	VolScaling  bool
	TrendWindow int
	GapWeight   float64
}

func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Lookback:    20,
		ZThreshold:  2.0,
		MinObs:      10,
		VolScaling:  true,
		TrendWindow: 50,
		GapWeight:   0.5,
	}
}

// MeanReversion fades large daily moves in range-bound names.
type MeanReversion struct {
	cfg MeanReversionConfig
}

func NewMeanReversion(cfg MeanReversionConfig) *MeanReversion {
	def := DefaultMeanReversionConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.ZThreshold <= 0 {
		cfg.ZThreshold = def.ZThreshold
	}
	if cfg.MinObs <= 0 {
		cfg.MinObs = def.MinObs
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = def.TrendWindow
	}
	return &MeanReversion{cfg: cfg}
}

// Signals returns contrarian scores in [-1, 1]. regimeScale, when non-nil, is
// aligned to the history dates and multiplies each row after flooring at 0.
func (m *MeanReversion) Signals(h *models.History, regimeScale []float64) *models.Frame {
	returns := features.Returns(h).FillNaN(0)
	z := rollingZ(returns, m.cfg.Lookback, m.cfg.MinObs)

	fast := features.FrameRollingMean(h.AdjClose, 10, 10)
	slow := features.FrameRollingMean(h.AdjClose, m.cfg.TrendWindow, m.cfg.TrendWindow/2)
	out := models.ZeroFrame(h.Dates(), h.Symbols())
	for i := range out.Values {
		for j := range out.Values[i] {
			zz := z.Values[i][j]
			if math.Abs(zz) < m.cfg.ZThreshold {
				continue
			}
			f, s := fast.Values[i][j], slow.Values[i][j]
			if math.IsNaN(f) || math.IsNaN(s) || s == 0 {
				continue
			}
			if math.Abs(f-s)/math.Abs(s) < 0.02 {
				out.Values[i][j] = -zz
			}
		}
	}

	if m.cfg.GapWeight > 0 {
		gz := rollingZ(gaps(h), m.cfg.Lookback, m.cfg.MinObs)
		gw := m.cfg.GapWeight
		for i := range out.Values {
			for j := range out.Values[i] {
				gapSig := -features.Clip(gz.Values[i][j], -3, 3) / 3
				out.Values[i][j] = (1-gw)*out.Values[i][j] + gw*gapSig
			}
		}
	}

	if regimeScale != nil {
		floored := make([]float64, len(regimeScale))
		for i, s := range regimeScale {
			floored[i] = math.Max(s, 0)
		}
		out = features.ScaleRows(out, floored)
	}

	if m.cfg.VolScaling {
		inv := features.FrameRollingStd(returns, 20, 5, 0).Apply(func(s float64) float64 {
			if s > 0 {
				return 1 / s
			}
			return 0
		}).FillNaN(0)
		for i, row := range inv.Values {
			var sum float64
			for _, v := range row {
				sum += v
			}
			for j := range row {
				if sum > 0 {
					out.Values[i][j] *= row[j] / sum
				} else {
					out.Values[i][j] = 0
				}
			}
		}
	}
	return out.Apply(func(v float64) float64 { return features.Clip(v, -1, 1) })
}

// LatestTarget rescales the final row so its gross exposure equals budget.
func LatestTarget(signals *models.Frame, budget float64) map[string]float64 {
	last := signals.Last()
	gross := features.GrossExposure(last)
	out := make(map[string]float64, len(last))
	for s, v := range last {
		if gross < 1e-12 {
			out[s] = 0
			continue
		}
		out[s] = v * budget / gross
	}
	return out
}

func rollingZ(f *models.Frame, window, minObs int) *models.Frame {
	mean := features.FrameRollingMean(f, window, minObs)
	std := features.FrameRollingStd(f, window, minObs, 0)
	out := models.ZeroFrame(f.Dates, f.Symbols)
	for i := range out.Values {
		for j := range out.Values[i] {
			s := std.Values[i][j]
			if s == 0 || math.IsNaN(s) {
				continue
			}
			if z := (f.Values[i][j] - mean.Values[i][j]) / s; features.IsFinite(z) {
				out.Values[i][j] = z
			}
		}
	}
	return out
}

// gaps is the overnight move open[t]/close[t-1] - 1, 0 when undefined.
func gaps(h *models.History) *models.Frame {
	prevClose := features.FrameShift(h.Close, 1)
	return features.Combine(h.Open, prevClose, func(o, pc float64) float64 {
		if pc == 0 || math.IsNaN(pc) || math.IsNaN(o) {
			return 0
		}
		return o/pc - 1
	})
}
