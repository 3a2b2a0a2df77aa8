package features

import (
	"math"
	"sort"
)

// Series helpers operate on slices where NaN marks a missing observation.

func IsFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// NaNIfNotFinite maps ±Inf to NaN.
func NaNIfNotFinite(v float64) float64 {
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func NaNSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Shift moves values forward by n rows (backward when n < 0).
func Shift(x []float64, n int) []float64 {
	out := NaNSeries(len(x))
	for i := range x {
		src := i - n
		if src >= 0 && src < len(x) {
			out[i] = x[src]
		}
	}
	return out
}

// PctChange returns x[t]/x[t-periods] - 1. A zero or missing base gives NaN.
func PctChange(x []float64, periods int) []float64 {
	out := NaNSeries(len(x))
	for i := periods; i < len(x); i++ {
		prev := x[i-periods]
		if math.IsNaN(prev) || math.IsNaN(x[i]) || prev == 0 {
			continue
		}
		out[i] = x[i]/prev - 1
	}
	return out
}

func window(x []float64, end, size int) []float64 {
	start := end - size + 1
	if start < 0 {
		start = 0
	}
	vals := make([]float64, 0, size)
	for _, v := range x[start : end+1] {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	return vals
}

// RollingMean is a trailing mean over size rows with at least minPeriods observations.
func RollingMean(x []float64, size, minPeriods int) []float64 {
	out := NaNSeries(len(x))
	if size <= 0 {
		return out
	}
	for i := range x {
		vals := window(x, i, size)
		if len(vals) < minPeriods || len(vals) == 0 {
			continue
		}
		out[i] = Mean(vals)
	}
	return out
}

// RollingStd is a trailing standard deviation with the given delta degrees of freedom.
func RollingStd(x []float64, size, minPeriods, ddof int) []float64 {
	out := NaNSeries(len(x))
	if size <= 0 {
		return out
	}
	for i := range x {
		vals := window(x, i, size)
		if len(vals) < minPeriods || len(vals) <= ddof {
			continue
		}
		out[i] = Std(vals, ddof)
	}
	return out
}

// ExpandingZScore standardizes each value against all observations up to it.
// A zero spread gives 0.
func ExpandingZScore(x []float64) []float64 {
	out := NaNSeries(len(x))
	var n, sum, sum2 float64
	for i, v := range x {
		if math.IsNaN(v) {
			continue
		}
		n++
		sum += v
		sum2 += v * v
		mean := sum / n
		variance := sum2/n - mean*mean
		if variance <= 1e-18 {
			out[i] = 0
			continue
		}
		out[i] = (v - mean) / math.Sqrt(variance)
	}
	return out
}

// FFill carries the last observation forward.
func FFill(x []float64) []float64 {
	out := make([]float64, len(x))
	last := math.NaN()
	for i, v := range x {
		if !math.IsNaN(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

func Clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(lo, math.Min(hi, v))
}

// Mean ignores NaN and returns NaN for an empty input.
func Mean(x []float64) float64 {
	var sum float64
	var n int
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Std ignores NaN. ddof 0 is the population estimate.
func Std(x []float64, ddof int) float64 {
	m := Mean(x)
	if math.IsNaN(m) {
		return math.NaN()
	}
	var ss float64
	var n int
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		d := v - m
		ss += d * d
		n++
	}
	if n-ddof <= 0 {
		return math.NaN()
	}
	return math.Sqrt(ss / float64(n-ddof))
}

// RankPct ranks the non-NaN values into (0, 1], averaging ties.
func RankPct(x []float64) []float64 {
	out := NaNSeries(len(x))
	idx := make([]int, 0, len(x))
	for i, v := range x {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	if n == 0 {
		return out
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	for i := 0; i < n; {
		j := i
		for j+1 < n && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg / float64(n)
		}
		i = j + 1
	}
	return out
}

// Quantile uses linear interpolation between closest ranks.
func Quantile(x []float64, q float64) float64 {
	vals := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	pos := q * float64(len(vals)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return vals[lo]
	}
	return vals[lo] + (pos-float64(lo))*(vals[hi]-vals[lo])
}
