package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finalloc",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of pipeline API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finalloc",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by pipeline API endpoint",
		},
		[]string{"endpoint"},
	)

	BacktestJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finalloc",
			Subsystem: "api",
			Name:      "backtest_jobs_total",
			Help:      "Backtest submissions by outcome (queued or rejected)",
		},
		[]string{"outcome"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, BacktestJobs)
	})
}
