// Package prometheus implements the pkg/metrics hooks with Prometheus
// collectors. Import it for side effects to make the metrics constructors
// return live implementations once metrics.InitRegistry has been called.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/nfsstream/pkg/metrics"
)

func init() {
	metrics.RegisterPoolMetricsConstructor(NewPoolMetrics)
	metrics.RegisterStreamMetricsConstructor(NewStreamMetrics)
	metrics.RegisterClientMetricsConstructor(NewClientMetrics)
}

// perRegistry memoizes one collector set per registry: collectors can only
// be registered once, but constructors are called per pool, file or mount.
type perRegistry[T any] struct {
	mu    sync.Mutex
	byReg map[*prometheus.Registry]T
}

func (p *perRegistry[T]) get(build func(reg *prometheus.Registry) T) (T, bool) {
	var zero T
	reg := metrics.GetRegistry()
	if reg == nil {
		return zero, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byReg == nil {
		p.byReg = make(map[*prometheus.Registry]T)
	}
	if m, ok := p.byReg[reg]; ok {
		return m, true
	}
	m := build(reg)
	p.byReg[reg] = m
	return m, true
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Milliseconds buckets shared by the latency histograms.
var latencyBuckets = []float64{
	0.1,   // loopback
	0.5,   // LAN, small call
	1,     // LAN
	5,     // busy server
	10,    // WAN
	50,    // slow disk
	100,   // commit
	500,   // overloaded server
	1000,  // 1s
	10000, // 10s
}
