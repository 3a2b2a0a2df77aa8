package portfolio

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"FinAlloc/internal/domain/models"
)

const VolLookback = 60

// completeColumns returns the symbols with no missing value in f and their
// observations as a rows x symbols matrix.
func completeColumns(f *models.Frame) ([]string, *mat.Dense) {
	var syms []string
	var cols [][]float64
	for _, s := range f.Symbols {
		col := f.Column(s)
		ok := len(col) > 1
		for _, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
		}
		if ok {
			syms = append(syms, s)
			cols = append(cols, col)
		}
	}
	if len(syms) == 0 {
		return nil, nil
	}
	m := mat.NewDense(len(cols[0]), len(cols), nil)
	for j, col := range cols {
		m.SetCol(j, col)
	}
	return syms, m
}

// InverseVolWeights allocates budget in proportion to 1/σ over the trailing
// VolLookback rows. Names without a full window or with zero volatility get 0.
func InverseVolWeights(returns *models.Frame, budget float64) map[string]float64 {
	out := make(map[string]float64, len(returns.Symbols))
	for _, s := range returns.Symbols {
		out[s] = 0
	}
	if returns.Len() < VolLookback {
		return out
	}
	tail := returns.Slice(returns.Len()-VolLookback, returns.Len())
	syms, obs := completeColumns(tail)
	if obs == nil {
		return out
	}
	cov := mat.NewSymDense(len(syms), nil)
	stat.CovarianceMatrix(cov, obs, nil)

	inv := make([]float64, len(syms))
	var sum float64
	for j := range syms {
		if v := cov.At(j, j); v > 1e-18 {
			inv[j] = 1 / math.Sqrt(v)
			sum += inv[j]
		}
	}
	if sum == 0 {
		return out
	}
	for j, s := range syms {
		out[s] = inv[j] / sum * budget
	}
	return out
}
