package usecase

import (
	"context"
	"fmt"
	"time"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/services/features"
	"FinAlloc/internal/services/regime"
	"FinAlloc/pkg/config"
	applogger "FinAlloc/pkg/logger"
)

// TargetsView is the latest optimized target with the regime behind it.
type TargetsView struct {
	AsOf    time.Time           `json:"asof"`
	Regime  *models.RegimeState `json:"regime,omitempty"`
	Weights map[string]float64  `json:"weights"`
	Sleeves map[string]float64  `json:"sleeve_gross"`
}

// SignalQuery answers read-only questions over stored history.
type SignalQuery struct {
	cfg      *config.Config
	loader   *HistoryLoader
	pipeline *Pipeline
	log      *applogger.Logger
	now      func() time.Time
}

func NewSignalQuery(cfg *config.Config, loader *HistoryLoader, pipeline *Pipeline, log *applogger.Logger) *SignalQuery {
	if log == nil {
		log = applogger.Nop()
	}
	return &SignalQuery{cfg: cfg, loader: loader, pipeline: pipeline, log: log.Component("signal_query"), now: time.Now}
}

// window resolves empty bounds to the trailing history window ending today.
func (q *SignalQuery) window(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = q.now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -q.cfg.Data.HistoryDays)
	}
	return from, to
}

func (q *SignalQuery) history(ctx context.Context, from, to time.Time) (*models.History, error) {
	from, to = q.window(from, to)
	h, err := q.loader.Load(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if h.Empty() {
		return nil, fmt.Errorf("no bars in %s..%s: %w", from.Format("2006-01-02"), to.Format("2006-01-02"), models.ErrMarketDataGap)
	}
	return h, nil
}

// Regimes returns the last n regime states in [from, to].
func (q *SignalQuery) Regimes(ctx context.Context, from, to time.Time, last int) ([]models.RegimeState, error) {
	h, err := q.history(ctx, from, to)
	if err != nil {
		return nil, err
	}
	states := q.pipeline.detector.Detect(h)
	if last > 0 && len(states) > last {
		states = states[len(states)-last:]
	}
	return states, nil
}

// Breadth runs the threshold allocator over the trend breadth series. Dates
// before the moving-average window fills are left out.
func (q *SignalQuery) Breadth(ctx context.Context, from, to time.Time, riskOff, riskOn float64) ([]models.BreadthAllocation, error) {
	base := make(map[models.RegimeLabel]map[string]float64, len(q.cfg.Regime.BaseAllocations))
	for label, w := range q.cfg.Regime.BaseAllocations {
		base[models.RegimeLabel(label)] = w
	}
	alloc, err := regime.NewBreadthAllocator(map[string]float64{
		regime.ThresholdRiskOff: riskOff,
		regime.ThresholdRiskOn:  riskOn,
	}, base)
	if err != nil {
		return nil, err
	}
	h, err := q.history(ctx, from, to)
	if err != nil {
		return nil, err
	}
	rows := alloc.Allocate(h.Dates(), regime.TrendBreadth(h.Close, q.cfg.Regime.BreadthWindow))
	out := rows[:0]
	for _, r := range rows {
		if features.IsFinite(r.Breadth) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Targets runs the full pipeline on the history ending at asOf.
func (q *SignalQuery) Targets(ctx context.Context, asOf time.Time) (*TargetsView, error) {
	if asOf.IsZero() {
		asOf = q.now().UTC()
	}
	h, err := q.history(ctx, time.Time{}, asOf)
	if err != nil {
		return nil, err
	}
	res, err := q.pipeline.Run(ctx, h, nil)
	if err != nil {
		return nil, err
	}
	view := &TargetsView{AsOf: res.Weights.Dates[res.Weights.Len()-1], Weights: res.Latest(), Sleeves: map[string]float64{}}
	if st, ok := res.LatestRegime(); ok {
		view.Regime = &st
	}
	for name, f := range res.Sleeves {
		view.Sleeves[name] = features.GrossExposure(f.Last())
	}
	return view, nil
}
