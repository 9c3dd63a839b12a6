package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 处理器指标
type Metrics struct {
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec
	RunsInFlight prometheus.Gauge
	RunDuration  *prometheus.HistogramVec
	PollCycles   prometheus.Counter
	RunsReaped   prometheus.Counter
}

// NewMetrics 在指定 Registerer 上注册处理器指标
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "runs_started_total",
			Help:      "Total runs claimed by the processor",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "runs_finished_total",
			Help:      "Total runs finished by final status",
		}, []string{"status"}),
		RunsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "runs_in_flight",
			Help:      "Runs currently executing in this processor",
		}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "run_duration_seconds",
			Help:      "Run execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		PollCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "poll_cycles_total",
			Help:      "Total poll cycles",
		}),
		RunsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "runs_reaped_total",
			Help:      "Stale running runs re-queued by the lease sweep",
		}),
	}
}
