package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/nfsstream/pkg/metrics"
)

type streamMetrics struct {
	callsTotal      *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	bytesTotal      *prometheus.CounterVec
	deferredErrors  prometheus.Counter
	seekCorrections prometheus.Histogram
	releaseFailures prometheus.Counter
}

var streams perRegistry[*streamMetrics]

// NewStreamMetrics returns Prometheus-backed stream metrics, or nil when
// metrics are disabled.
func NewStreamMetrics() metrics.StreamMetrics {
	m, ok := streams.get(func(reg *prometheus.Registry) *streamMetrics {
		f := promauto.With(reg)
		return &streamMetrics{
			callsTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metrics.Namespace,
					Subsystem: "stream",
					Name:      "calls_total",
					Help:      "Blocking calls issued by stream adapters, by operation and outcome",
				},
				[]string{"operation", "status"},
			),
			callDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metrics.Namespace,
					Subsystem: "stream",
					Name:      "call_duration_milliseconds",
					Help:      "Duration of blocking calls issued by stream adapters",
					Buckets:   latencyBuckets,
				},
				[]string{"operation"},
			),
			bytesTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metrics.Namespace,
					Subsystem: "stream",
					Name:      "bytes_total",
					Help:      "Bytes moved by stream adapters",
				},
				[]string{"operation"},
			),
			deferredErrors: f.NewCounter(prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "stream",
				Name:      "deferred_write_errors_total",
				Help:      "Write failures held back until the next write or flush",
			}),
			seekCorrections: f.NewHistogram(prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "stream",
				Name:      "seek_correction_bytes",
				Help:      "Read-ahead bytes discarded before a write",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
			}),
			releaseFailures: f.NewCounter(prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "stream",
				Name:      "release_failures_total",
				Help:      "Remote handle releases that failed",
			}),
		}
	})
	if !ok {
		return nil
	}
	return m
}

func (m *streamMetrics) ObserveCall(op string, duration time.Duration, bytes int, err error) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(op, status(err)).Inc()
	m.callDuration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000)
	if bytes > 0 {
		m.bytesTotal.WithLabelValues(op).Add(float64(bytes))
	}
}

func (m *streamMetrics) RecordDeferredError() {
	if m == nil {
		return
	}
	m.deferredErrors.Inc()
}

func (m *streamMetrics) RecordSeekCorrection(discarded int64) {
	if m == nil {
		return
	}
	m.seekCorrections.Observe(float64(discarded))
}

func (m *streamMetrics) RecordReleaseFailure() {
	if m == nil {
		return
	}
	m.releaseFailures.Inc()
}
