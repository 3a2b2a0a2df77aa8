package portfolio

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"FinAlloc/internal/domain/models"
)

// DefaultShrinkage blends the sample covariance toward its diagonal.
const DefaultShrinkage = 0.1

// ShrinkCovariance returns (1-s)·sample + s·diag(sample) over symbols with
// complete data.
func ShrinkCovariance(returns *models.Frame, s float64) ([]string, *mat.SymDense) {
	syms, obs := completeColumns(returns)
	if obs == nil {
		return nil, nil
	}
	sample := mat.NewSymDense(len(syms), nil)
	stat.CovarianceMatrix(sample, obs, nil)
	n := len(syms)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1 - s) * sample.At(i, j)
			if i == j {
				v += s * sample.At(i, i)
			}
			out.SetSym(i, j, v)
		}
	}
	return syms, out
}

// RiskParityWeights is inverse variance, normalized to sum to 1.
func RiskParityWeights(cov mat.Symmetric) []float64 {
	n := cov.SymmetricDim()
	w := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		if v := cov.At(i, i); v > 0 {
			w[i] = 1 / v
			sum += w[i]
		}
	}
	if sum == 0 {
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// EqualRiskContribution solves w_i·(Σw)_i = const by cyclical coordinate
// descent on the log-barrier form, then normalizes to sum to 1. It stops after
// iters sweeps or when no weight moves by more than tol.
func EqualRiskContribution(cov mat.Symmetric, iters int, tol float64) []float64 {
	n := cov.SymmetricDim()
	w := make([]float64, n)
	if n == 0 {
		return w
	}
	for i := range w {
		if v := cov.At(i, i); v > 0 {
			w[i] = 1 / math.Sqrt(v)
		}
	}
	budget := 1 / float64(n)
	for it := 0; it < iters; it++ {
		var moved float64
		for i := 0; i < n; i++ {
			sii := cov.At(i, i)
			if sii <= 0 {
				continue
			}
			var b float64
			for j := 0; j < n; j++ {
				if j != i {
					b += cov.At(i, j) * w[j]
				}
			}
			next := (-b + math.Sqrt(b*b+4*sii*budget)) / (2 * sii)
			moved = math.Max(moved, math.Abs(next-w[i]))
			w[i] = next
		}
		if moved < tol {
			break
		}
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum > 0 {
		for i := range w {
			w[i] /= sum
		}
	}
	return w
}

// RiskContributions returns w_i·(Σw)_i for each asset.
func RiskContributions(cov mat.Symmetric, w []float64) []float64 {
	n := cov.SymmetricDim()
	wv := mat.NewVecDense(n, append([]float64(nil), w...))
	var sw mat.VecDense
	sw.MulVec(cov, wv)
	out := make([]float64, n)
	for i := range out {
		out[i] = w[i] * sw.AtVec(i)
	}
	return out
}

// ERCWeights sizes the names in returns by equal risk contribution on the
// shrunk covariance, scaled to budget. Names without complete data get 0.
func ERCWeights(returns *models.Frame, budget float64) map[string]float64 {
	out := make(map[string]float64, len(returns.Symbols))
	for _, s := range returns.Symbols {
		out[s] = 0
	}
	if returns.Len() < VolLookback {
		return out
	}
	syms, cov := ShrinkCovariance(returns.Slice(returns.Len()-VolLookback, returns.Len()), DefaultShrinkage)
	if cov == nil {
		return out
	}
	for i, w := range EqualRiskContribution(cov, 100, 1e-12) {
		out[syms[i]] = w * budget
	}
	return out
}
