package regime

import (
	"fmt"
	"math"
	"time"

	"FinAlloc/internal/domain/models"
)

const (
	ThresholdRiskOff = "risk_off"
	ThresholdRiskOn  = "risk_on"
)

// BreadthAllocator picks a sleeve allocation from breadth thresholds.
type BreadthAllocator struct {
	riskOff float64
	riskOn  float64
	base    map[models.RegimeLabel]map[string]float64
}

// NewBreadthAllocator requires both threshold keys and risk_off < risk_on.
func NewBreadthAllocator(thresholds map[string]float64, base map[models.RegimeLabel]map[string]float64) (*BreadthAllocator, error) {
	off, ok := thresholds[ThresholdRiskOff]
	if !ok {
		return nil, fmt.Errorf("breadth thresholds missing %q: %w", ThresholdRiskOff, models.ErrConfiguration)
	}
	on, ok := thresholds[ThresholdRiskOn]
	if !ok {
		return nil, fmt.Errorf("breadth thresholds missing %q: %w", ThresholdRiskOn, models.ErrConfiguration)
	}
	if off >= on {
		return nil, fmt.Errorf("breadth risk_off %.3f must be below risk_on %.3f: %w", off, on, models.ErrConfiguration)
	}
	return &BreadthAllocator{riskOff: off, riskOn: on, base: base}, nil
}

// Label maps one breadth reading to its regime. NaN is neutral.
func (a *BreadthAllocator) Label(breadth float64) models.RegimeLabel {
	switch {
	case math.IsNaN(breadth):
		return models.RegimeNeutral
	case breadth <= a.riskOff:
		return models.RegimeRiskOff
	case breadth >= a.riskOn:
		return models.RegimeRiskOn
	default:
		return models.RegimeNeutral
	}
}

// Weights returns a copy of the allocation for one breadth reading. A label
// without a base allocation falls back to neutral.
func (a *BreadthAllocator) Weights(breadth float64) (models.RegimeLabel, map[string]float64) {
	label := a.Label(breadth)
	alloc, ok := a.base[label]
	if !ok {
		label = models.RegimeNeutral
		alloc = a.base[models.RegimeNeutral]
	}
	out := make(map[string]float64, len(alloc))
	for k, v := range alloc {
		out[k] = v
	}
	return label, out
}

func (a *BreadthAllocator) Allocate(dates []time.Time, breadth []float64) []models.BreadthAllocation {
	out := make([]models.BreadthAllocation, 0, len(breadth))
	for i, b := range breadth {
		label, w := a.Weights(b)
		row := models.BreadthAllocation{Breadth: b, Label: label, Weights: w}
		if i < len(dates) {
			row.Date = dates[i]
		}
		out = append(out, row)
	}
	return out
}

// ScaleSeries returns the detector's scales aligned to dates, forward filled
// and defaulting to 1.0 before the first state.
func ScaleSeries(dates []time.Time, states []models.RegimeState) (momentum, meanReversion []float64) {
	momentum = make([]float64, len(dates))
	meanReversion = make([]float64, len(dates))
	k := 0
	mom, mr := 1.0, 1.0
	for i, d := range dates {
		for k < len(states) && !states[k].Date.After(d) {
			mom, mr = states[k].MomentumScale, states[k].MeanReversionScale
			k++
		}
		momentum[i], meanReversion[i] = mom, mr
	}
	return momentum, meanReversion
}
