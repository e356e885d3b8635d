package metrics

import "time"

// StreamMetrics observes the stream adapter.
//
// Example usage:
//
//	m := metrics.NewStreamMetrics()
//	f := stream.New(remote, stream.WithMetrics(m))
type StreamMetrics interface {
	// ObserveCall records a completed blocking call.
	//
	// Parameters:
	//   - op: "read", "write", "stat", "sync" or "release"
	//   - duration: time spent inside the call on its worker
	//   - bytes: bytes transferred (0 for non-transfer calls)
	//   - err: the call's failure, nil on success
	ObserveCall(op string, duration time.Duration, bytes int, err error)

	// RecordDeferredError counts write failures stored for later delivery.
	RecordDeferredError()

	// RecordSeekCorrection records the read-ahead discarded before a write.
	RecordSeekCorrection(discarded int64)

	// RecordReleaseFailure counts handle releases that failed.
	RecordReleaseFailure()
}

var newStreamMetrics func() StreamMetrics

// RegisterStreamMetricsConstructor is called by the Prometheus
// implementation during package initialization.
func RegisterStreamMetricsConstructor(constructor func() StreamMetrics) {
	newStreamMetrics = constructor
}

// NewStreamMetrics returns the registered implementation, or nil when
// metrics are disabled.
func NewStreamMetrics() StreamMetrics {
	if !IsEnabled() || newStreamMetrics == nil {
		return nil
	}
	return newStreamMetrics()
}
