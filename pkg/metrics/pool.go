package metrics

import "time"

// PoolMetrics observes the blocking-call worker pool.
type PoolMetrics interface {
	// ObserveTask records a finished task: how long it waited for a worker
	// slot, how long it ran, and whether it panicked.
	ObserveTask(op string, wait, run time.Duration, panicked bool)

	// SetQueue reports tasks waiting for a slot and tasks running.
	SetQueue(pending, running int)
}

var newPoolMetrics func() PoolMetrics

// RegisterPoolMetricsConstructor is called by the Prometheus implementation
// during package initialization.
func RegisterPoolMetricsConstructor(constructor func() PoolMetrics) {
	newPoolMetrics = constructor
}

// NewPoolMetrics returns the registered implementation, or nil when metrics
// are disabled or no implementation is linked in.
func NewPoolMetrics() PoolMetrics {
	if !IsEnabled() || newPoolMetrics == nil {
		return nil
	}
	return newPoolMetrics()
}
