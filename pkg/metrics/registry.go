// Package metrics defines the observability hooks used by the worker pool,
// the stream adapter and the NFS client.
//
// Every hook is an interface; passing nil disables collection with zero
// overhead. The Prometheus implementations live in pkg/metrics/prometheus
// and register their constructors here at init time, so importing that
// package for side effects is enough to enable them:
//
//	import _ "github.com/marmos91/nfsstream/pkg/metrics/prometheus"
//
//	metrics.InitRegistry()
//	pool := blocking.NewPool(blocking.Config{Metrics: metrics.NewPoolMetrics()})
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "nfsstream"

var (
	regMu    sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection with a fresh registry that also
// carries the Go runtime and process collectors. Calling it again replaces
// the registry.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	regMu.Lock()
	registry = reg
	regMu.Unlock()
	return reg
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	regMu.RLock()
	defer regMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the active registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	regMu.RLock()
	defer regMu.RUnlock()
	return registry
}

// Reset disables metrics. Intended for tests.
func Reset() {
	regMu.Lock()
	registry = nil
	regMu.Unlock()
}

// Handler serves the active registry in the Prometheus exposition format.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
