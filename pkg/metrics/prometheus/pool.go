package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/nfsstream/pkg/metrics"
)

type poolMetrics struct {
	tasksTotal   *prometheus.CounterVec
	waitDuration *prometheus.HistogramVec
	runDuration  *prometheus.HistogramVec
	pending      prometheus.Gauge
	running      prometheus.Gauge
}

var pools perRegistry[*poolMetrics]

// NewPoolMetrics returns Prometheus-backed pool metrics, or nil when metrics
// are disabled.
func NewPoolMetrics() metrics.PoolMetrics {
	m, ok := pools.get(func(reg *prometheus.Registry) *poolMetrics {
		f := promauto.With(reg)
		return &poolMetrics{
			tasksTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metrics.Namespace,
					Subsystem: "pool",
					Name:      "tasks_total",
					Help:      "Blocking calls executed by the worker pool, by operation and outcome",
				},
				[]string{"operation", "status"},
			),
			waitDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metrics.Namespace,
					Subsystem: "pool",
					Name:      "wait_duration_milliseconds",
					Help:      "Time blocking calls waited for a worker slot",
					Buckets:   latencyBuckets,
				},
				[]string{"operation"},
			),
			runDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metrics.Namespace,
					Subsystem: "pool",
					Name:      "run_duration_milliseconds",
					Help:      "Time blocking calls spent running on a worker",
					Buckets:   latencyBuckets,
				},
				[]string{"operation"},
			),
			pending: f.NewGauge(prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pool",
				Name:      "pending",
				Help:      "Blocking calls waiting for a worker slot",
			}),
			running: f.NewGauge(prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pool",
				Name:      "running",
				Help:      "Blocking calls currently running",
			}),
		}
	})
	if !ok {
		return nil
	}
	return m
}

func (m *poolMetrics) ObserveTask(op string, wait, run time.Duration, panicked bool) {
	if m == nil {
		return
	}
	st := "success"
	if panicked {
		st = "panic"
	}
	m.tasksTotal.WithLabelValues(op, st).Inc()
	m.waitDuration.WithLabelValues(op).Observe(float64(wait.Microseconds()) / 1000)
	m.runDuration.WithLabelValues(op).Observe(float64(run.Microseconds()) / 1000)
}

func (m *poolMetrics) SetQueue(pending, running int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.running.Set(float64(running))
}
