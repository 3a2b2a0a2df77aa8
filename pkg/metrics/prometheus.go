package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinAlloc/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	pipelineRuns *prometheus.HistogramVec
	sleeveGross  *prometheus.GaugeVec
	regimeScore  *prometheus.GaugeVec
	orders       *prometheus.CounterVec
	equity       *prometheus.GaugeVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		pipelineRuns: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finalloc_pipeline_run_seconds",
				Help:    "Duration of full pipeline runs",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		sleeveGross: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finalloc_sleeve_gross_exposure",
				Help: "Gross exposure of the latest sleeve targets",
			},
			[]string{"sleeve"},
		),
		regimeScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finalloc_regime_score",
				Help: "Latest regime score, labelled by regime",
			},
			[]string{"label"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_orders_total",
				Help: "Order tickets submitted",
			},
			[]string{"broker", "side"},
		),
		equity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finalloc_equity",
				Help: "Latest equity by mode",
			},
			[]string{"mode"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finalloc_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordPipelineRun(mode string, seconds float64) {
	r.pipelineRuns.WithLabelValues(mode).Observe(seconds)
}

func (r *Recorder) RecordSleeveGross(sleeve string, gross float64) {
	r.sleeveGross.WithLabelValues(sleeve).Set(gross)
}

// RecordRegime keeps one series per label with only the current label non-zero.
func (r *Recorder) RecordRegime(label string, score float64) {
	r.regimeScore.Reset()
	r.regimeScore.WithLabelValues(label).Set(score)
}

func (r *Recorder) RecordOrder(broker, side string) {
	r.orders.WithLabelValues(broker, side).Inc()
}

func (r *Recorder) RecordEquity(mode string, equity float64) {
	r.equity.WithLabelValues(mode).Set(equity)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards all measurements.
type Noop struct{}

var _ repository.Metrics = Noop{}

func (Noop) RecordPipelineRun(string, float64) {}
func (Noop) RecordSleeveGross(string, float64) {}
func (Noop) RecordRegime(string, float64)      {}
func (Noop) RecordOrder(string, string)        {}
func (Noop) RecordEquity(string, float64)      {}
func (Noop) RecordError(string)                {}
func (Noop) RecordLatency(string, float64)     {}
