package execution

import (
	"math"

	domsvc "FinAlloc/internal/domain/service"
)

const minParticipation = 1e-6

// Slippage converts participation into a fractional price concession.
type Slippage struct {
	SpreadBps float64
	ImpactK   float64
}

func NewSlippage(spreadBps, impactK float64) *Slippage {
	return &Slippage{SpreadBps: spreadBps, ImpactK: impactK}
}

// Cost is half the spread plus impact_k·p^1.5, with p floored at 1e-6.
func (s *Slippage) Cost(participation float64) float64 {
	p := math.Max(participation, minParticipation)
	return 0.5*s.SpreadBps/1e4 + s.ImpactK*math.Pow(p, 1.5)
}

var _ domsvc.SlippageModel = (*Slippage)(nil)
