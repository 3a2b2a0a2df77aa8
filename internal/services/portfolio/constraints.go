package portfolio

import (
	"math"
	"sort"
)

// ConstraintConfig are the hard limits applied to every sleeve target.
type ConstraintConfig struct {
	SectorNeutral bool
	BetaNeutral   bool
	BetaLimit     float64
	MaxNameWeight float64
}

func DefaultConstraintConfig() ConstraintConfig {
	return ConstraintConfig{
		SectorNeutral: true,
		BetaNeutral:   true,
		BetaLimit:     0.05,
		MaxNameWeight: 0.05,
	}
}

func sortedKeys(w map[string]float64) []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// SectorNeutralize subtracts each sector's mean weight.
func SectorNeutralize(w map[string]float64, sectors map[string]string) map[string]float64 {
	sum := make(map[string]float64)
	count := make(map[string]int)
	for _, s := range sortedKeys(w) {
		sec := sectorOf(sectors, s)
		sum[sec] += w[s]
		count[sec]++
	}
	out := make(map[string]float64, len(w))
	for s, v := range w {
		sec := sectorOf(sectors, s)
		out[s] = v - sum[sec]/float64(count[sec])
	}
	return out
}

func sectorOf(sectors map[string]string, s string) string {
	if sec := sectors[s]; sec != "" {
		return sec
	}
	return "Unknown"
}

// PortfolioBeta is Σ w·β with missing betas taken as 1.
func PortfolioBeta(w, betas map[string]float64) float64 {
	var pb float64
	for _, s := range sortedKeys(w) {
		pb += w[s] * betaOf(betas, s)
	}
	return pb
}

func betaOf(betas map[string]float64, s string) float64 {
	if b, ok := betas[s]; ok && b != 0 {
		return b
	}
	return 1.0
}

// ClampBeta projects w onto the beta-orthogonal subspace when |Σ w·β| exceeds limit.
func ClampBeta(w, betas map[string]float64, limit float64) map[string]float64 {
	pb := PortfolioBeta(w, betas)
	if math.Abs(pb) <= limit {
		return copyWeights(w)
	}
	var b2 float64
	for _, s := range sortedKeys(w) {
		b := betaOf(betas, s)
		b2 += b * b
	}
	if b2 == 0 {
		return copyWeights(w)
	}
	k := pb / b2
	out := make(map[string]float64, len(w))
	for s, v := range w {
		out[s] = v - k*betaOf(betas, s)
	}
	return out
}

// MaxWeightClip caps every name then shrinks the book to at most unit gross.
func MaxWeightClip(w map[string]float64, max float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	var gross float64
	for _, s := range sortedKeys(w) {
		c := math.Max(-max, math.Min(max, w[s]))
		out[s] = c
		gross += math.Abs(c)
	}
	div := math.Max(1, gross)
	for s := range out {
		out[s] /= div
	}
	return out
}

// ApplyConstraints runs sector neutrality, beta clamp then the name cap.
func ApplyConstraints(w map[string]float64, cfg ConstraintConfig, sectors map[string]string, betas map[string]float64) map[string]float64 {
	out := copyWeights(w)
	if cfg.SectorNeutral {
		out = SectorNeutralize(out, sectors)
	}
	if cfg.BetaNeutral {
		out = ClampBeta(out, betas, cfg.BetaLimit)
	}
	if cfg.MaxNameWeight > 0 {
		out = MaxWeightClip(out, cfg.MaxNameWeight)
	}
	return out
}

// CombineSleeves sums sleeve weights and normalizes to unit gross.
func CombineSleeves(sleeves ...map[string]float64) map[string]float64 {
	agg := make(map[string]float64)
	for _, w := range sleeves {
		for s, v := range w {
			agg[s] += v
		}
	}
	var gross float64
	for _, s := range sortedKeys(agg) {
		gross += math.Abs(agg[s])
	}
	if gross == 0 {
		return agg
	}
	for s := range agg {
		agg[s] /= gross
	}
	return agg
}
