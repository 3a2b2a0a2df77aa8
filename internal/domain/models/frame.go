package models

import (
	"math"
	"sort"
	"time"
)

// Frame is a dense date x symbol matrix. Missing cells hold NaN.
// Dates are strictly increasing; Symbols keep their insertion order.
type Frame struct {
	Dates   []time.Time
	Symbols []string
	Values  [][]float64

	col map[string]int
}

// NewFrame allocates a frame filled with NaN.
func NewFrame(dates []time.Time, symbols []string) *Frame {
	f := &Frame{
		Dates:   append([]time.Time(nil), dates...),
		Symbols: append([]string(nil), symbols...),
		Values:  make([][]float64, len(dates)),
	}
	for i := range f.Values {
		row := make([]float64, len(symbols))
		for j := range row {
			row[j] = math.NaN()
		}
		f.Values[i] = row
	}
	f.reindex()
	return f
}

// ZeroFrame allocates a frame filled with zeros.
func ZeroFrame(dates []time.Time, symbols []string) *Frame {
	f := NewFrame(dates, symbols)
	for _, row := range f.Values {
		for j := range row {
			row[j] = 0
		}
	}
	return f
}

func (f *Frame) reindex() {
	f.col = make(map[string]int, len(f.Symbols))
	for j, s := range f.Symbols {
		f.col[s] = j
	}
}

func (f *Frame) Len() int { return len(f.Dates) }

func (f *Frame) Empty() bool { return f == nil || len(f.Dates) == 0 || len(f.Symbols) == 0 }

// Col returns the column index of a symbol.
func (f *Frame) Col(symbol string) (int, bool) {
	if f.col == nil {
		f.reindex()
	}
	j, ok := f.col[symbol]
	return j, ok
}

// Row returns the index of the date, or -1.
func (f *Frame) Row(date time.Time) int {
	i := sort.Search(len(f.Dates), func(i int) bool { return !f.Dates[i].Before(date) })
	if i < len(f.Dates) && f.Dates[i].Equal(date) {
		return i
	}
	return -1
}

// RowAtOrBefore returns the last row whose date is not after date, or -1.
func (f *Frame) RowAtOrBefore(date time.Time) int {
	i := sort.Search(len(f.Dates), func(i int) bool { return f.Dates[i].After(date) })
	return i - 1
}

func (f *Frame) At(i int, symbol string) float64 {
	j, ok := f.Col(symbol)
	if !ok || i < 0 || i >= len(f.Values) {
		return math.NaN()
	}
	return f.Values[i][j]
}

func (f *Frame) Set(i int, symbol string, v float64) {
	if j, ok := f.Col(symbol); ok {
		f.Values[i][j] = v
	}
}

// Column copies one symbol's series.
func (f *Frame) Column(symbol string) []float64 {
	out := make([]float64, len(f.Dates))
	j, ok := f.Col(symbol)
	for i := range out {
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = f.Values[i][j]
	}
	return out
}

// RowMap returns row i keyed by symbol. NaN cells are skipped.
func (f *Frame) RowMap(i int) map[string]float64 {
	out := make(map[string]float64, len(f.Symbols))
	if i < 0 || i >= len(f.Values) {
		return out
	}
	for j, s := range f.Symbols {
		if v := f.Values[i][j]; !math.IsNaN(v) {
			out[s] = v
		}
	}
	return out
}

// Last returns the final row keyed by symbol.
func (f *Frame) Last() map[string]float64 {
	if f.Empty() {
		return map[string]float64{}
	}
	return f.RowMap(len(f.Dates) - 1)
}

func (f *Frame) Clone() *Frame {
	out := NewFrame(f.Dates, f.Symbols)
	for i, row := range f.Values {
		copy(out.Values[i], row)
	}
	return out
}

// Apply returns a new frame with fn applied cell-wise.
func (f *Frame) Apply(fn func(v float64) float64) *Frame {
	out := f.Clone()
	for _, row := range out.Values {
		for j, v := range row {
			row[j] = fn(v)
		}
	}
	return out
}

// FillNaN replaces every NaN with v in place and returns the frame.
func (f *Frame) FillNaN(v float64) *Frame {
	for _, row := range f.Values {
		for j, x := range row {
			if math.IsNaN(x) {
				row[j] = v
			}
		}
	}
	return f
}

// Reindex aligns the frame onto new dates and symbols. When ffill is set
// each new date takes the latest row at or before it.
func (f *Frame) Reindex(dates []time.Time, symbols []string, ffill bool) *Frame {
	out := NewFrame(dates, symbols)
	for i, d := range dates {
		src := f.Row(d)
		if src < 0 && ffill {
			src = f.RowAtOrBefore(d)
		}
		if src < 0 {
			continue
		}
		for j, s := range symbols {
			if ffill {
				out.Values[i][j] = f.lastValid(src, s)
			} else {
				out.Values[i][j] = f.At(src, s)
			}
		}
	}
	return out
}

func (f *Frame) lastValid(i int, symbol string) float64 {
	j, ok := f.Col(symbol)
	if !ok {
		return math.NaN()
	}
	for ; i >= 0; i-- {
		if v := f.Values[i][j]; !math.IsNaN(v) {
			return v
		}
	}
	return math.NaN()
}

// Slice returns rows [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	if from < 0 {
		from = 0
	}
	if to > len(f.Dates) {
		to = len(f.Dates)
	}
	if from > to {
		from = to
	}
	out := NewFrame(f.Dates[from:to], f.Symbols)
	for i := from; i < to; i++ {
		copy(out.Values[i-from], f.Values[i])
	}
	return out
}

// Add sums two frames cell-wise on the receiver's axes. NaN counts as zero.
func (f *Frame) Add(other *Frame) *Frame {
	out := f.Clone().FillNaN(0)
	if other == nil {
		return out
	}
	for i, d := range out.Dates {
		src := other.Row(d)
		if src < 0 {
			continue
		}
		for j, s := range out.Symbols {
			if v := other.At(src, s); !math.IsNaN(v) {
				out.Values[i][j] += v
			}
		}
	}
	return out
}
