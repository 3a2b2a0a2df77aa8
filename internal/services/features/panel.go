package features

import (
	"math"

	"FinAlloc/internal/domain/models"
)

// MapColumns applies fn to every symbol series and returns a new frame.
func MapColumns(f *models.Frame, fn func([]float64) []float64) *models.Frame {
	out := models.NewFrame(f.Dates, f.Symbols)
	for _, s := range f.Symbols {
		col := fn(f.Column(s))
		for i, v := range col {
			out.Set(i, s, v)
		}
	}
	return out
}

// MapRows applies fn to every date row and returns a new frame.
func MapRows(f *models.Frame, fn func([]float64) []float64) *models.Frame {
	out := models.NewFrame(f.Dates, f.Symbols)
	for i, row := range f.Values {
		copy(out.Values[i], fn(append([]float64(nil), row...)))
	}
	return out
}

func FramePctChange(f *models.Frame) *models.Frame {
	return MapColumns(f, func(x []float64) []float64 { return PctChange(x, 1) })
}

func FrameShift(f *models.Frame, n int) *models.Frame {
	return MapColumns(f, func(x []float64) []float64 { return Shift(x, n) })
}

func FrameRollingMean(f *models.Frame, size, minPeriods int) *models.Frame {
	return MapColumns(f, func(x []float64) []float64 { return RollingMean(x, size, minPeriods) })
}

func FrameRollingStd(f *models.Frame, size, minPeriods, ddof int) *models.Frame {
	return MapColumns(f, func(x []float64) []float64 { return RollingStd(x, size, minPeriods, ddof) })
}

func FrameRankPct(f *models.Frame) *models.Frame {
	return MapRows(f, RankPct)
}

// RowMean is the cross-sectional mean of each date, NaN when the row is empty.
func RowMean(f *models.Frame) []float64 {
	out := make([]float64, len(f.Dates))
	for i, row := range f.Values {
		out[i] = Mean(row)
	}
	return out
}

// RowStd is the cross-sectional standard deviation of each date.
func RowStd(f *models.Frame, ddof int) []float64 {
	out := make([]float64, len(f.Dates))
	for i, row := range f.Values {
		out[i] = Std(row, ddof)
	}
	return out
}

// Combine evaluates fn on aligned cells of a and b. Both frames must share axes.
func Combine(a, b *models.Frame, fn func(x, y float64) float64) *models.Frame {
	out := models.NewFrame(a.Dates, a.Symbols)
	for i := range a.Values {
		for j := range a.Values[i] {
			out.Values[i][j] = fn(a.Values[i][j], b.Values[i][j])
		}
	}
	return out
}

// ScaleRows multiplies every row by scale[i].
func ScaleRows(f *models.Frame, scale []float64) *models.Frame {
	out := f.Clone()
	for i, row := range out.Values {
		s := scale[i]
		for j := range row {
			row[j] *= s
		}
	}
	return out
}

// GrossExposure is Σ|w| over non-NaN cells of a row map.
func GrossExposure(w map[string]float64) float64 {
	var g float64
	for _, v := range w {
		if !math.IsNaN(v) {
			g += math.Abs(v)
		}
	}
	return g
}
