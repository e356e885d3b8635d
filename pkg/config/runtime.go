package config

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/internal/telemetry"
	"github.com/marmos91/nfsstream/pkg/blocking"
	"github.com/marmos91/nfsstream/pkg/metrics"
	"github.com/marmos91/nfsstream/pkg/nfs"
	"github.com/marmos91/nfsstream/pkg/stream"
)

// MetricsResult holds the collectors created by InitializeMetrics. Every
// field is nil when metrics are disabled.
type MetricsResult struct {
	Pool    metrics.PoolMetrics
	Client  metrics.ClientMetrics
	Stream  metrics.StreamMetrics
	Handler http.Handler
}

// InitializeMetrics enables the Prometheus registry when cfg.Metrics.Enabled.
// The Prometheus implementations must be linked in, typically with a blank
// import of pkg/metrics/prometheus.
func InitializeMetrics(cfg *Config) MetricsResult {
	if !cfg.Metrics.Enabled {
		metrics.Reset()
		return MetricsResult{}
	}

	metrics.InitRegistry()
	return MetricsResult{
		Pool:    metrics.NewPoolMetrics(),
		Client:  metrics.NewClientMetrics(),
		Stream:  metrics.NewStreamMetrics(),
		Handler: metrics.Handler(),
	}
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TracingConfig converts the telemetry section.
func (c *Config) TracingConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "nfsstream",
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ProfilingConfig converts the telemetry.profiling section.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Telemetry.Profiling.Enabled,
		ServiceName:    "nfsstream",
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Profiling.Endpoint,
		ProfileTypes:   c.Telemetry.Profiling.ProfileTypes,
	}
}

// NewPool creates the blocking-call pool sized by stream.workers.
func (c *Config) NewPool(m metrics.PoolMetrics) *blocking.Pool {
	return blocking.NewPool(blocking.Config{Workers: c.Stream.Workers, Metrics: m})
}

// Limiter returns the transfer rate limiter, or nil when unlimited. The
// burst covers one full transfer so a single call never waits twice.
func (c *Config) Limiter() *rate.Limiter {
	if c.Stream.RateLimit == 0 {
		return nil
	}
	limit := c.Stream.RateLimit.Int()
	return rate.NewLimiter(rate.Limit(limit), max(limit, c.Stream.MaxTransfer.Int()))
}

// StreamOptions converts the stream section. The pool is supplied by the
// client, which owns it.
func (c *Config) StreamOptions(m metrics.StreamMetrics) []stream.Option {
	opts := []stream.Option{
		stream.WithMaxTransfer(c.Stream.MaxTransfer.Int()),
		stream.WithMetrics(m),
	}
	if l := c.Limiter(); l != nil {
		opts = append(opts, stream.WithLimiter(l))
	}
	return opts
}

// ClientOptions converts the nfs and stream sections into mount options.
func (c *Config) ClientOptions(pool *blocking.Pool, mr MetricsResult) []nfs.Option {
	opts := []nfs.Option{
		nfs.WithPortmapPort(c.NFS.PortmapPort),
		nfs.WithTimeout(c.NFS.Timeout),
		nfs.WithPool(pool),
		nfs.WithMetrics(mr.Client),
		nfs.WithStreamOptions(c.StreamOptions(mr.Stream)...),
	}
	if c.NFS.MachineName != "" {
		opts = append(opts, nfs.WithMachineName(c.NFS.MachineName))
	}
	return opts
}
