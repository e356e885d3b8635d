package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/nfsstream/pkg/metrics"
)

type clientMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesTotal      *prometheus.CounterVec
}

var clients perRegistry[*clientMetrics]

// NewClientMetrics returns Prometheus-backed NFS client metrics, or nil when
// metrics are disabled.
func NewClientMetrics() metrics.ClientMetrics {
	m, ok := clients.get(func(reg *prometheus.Registry) *clientMetrics {
		f := promauto.With(reg)
		return &clientMetrics{
			requestsTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metrics.Namespace,
					Subsystem: "nfs",
					Name:      "requests_total",
					Help:      "NFS and MOUNT requests by procedure, export and status",
				},
				[]string{"procedure", "export", "status"},
			),
			requestDuration: f.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metrics.Namespace,
					Subsystem: "nfs",
					Name:      "request_duration_milliseconds",
					Help:      "Round-trip time of NFS and MOUNT requests",
					Buckets:   latencyBuckets,
				},
				[]string{"procedure", "export"},
			),
			bytesTotal: f.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metrics.Namespace,
					Subsystem: "nfs",
					Name:      "bytes_total",
					Help:      "Payload bytes moved by READ and WRITE",
				},
				[]string{"procedure", "export"},
			),
		}
	})
	if !ok {
		return nil
	}
	return m
}

func (m *clientMetrics) RecordRequest(procedure, export string, duration time.Duration, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(procedure, export, status).Inc()
	m.requestDuration.WithLabelValues(procedure, export).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *clientMetrics) RecordBytes(procedure, export string, bytes uint64) {
	if m == nil || bytes == 0 {
		return
	}
	m.bytesTotal.WithLabelValues(procedure, export).Add(float64(bytes))
}
