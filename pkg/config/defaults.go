package config

import (
	"strings"
	"time"

	"github.com/marmos91/nfsstream/internal/bytesize"
	"github.com/marmos91/nfsstream/internal/portmap"
	"github.com/marmos91/nfsstream/internal/rpc"
	"github.com/marmos91/nfsstream/pkg/blocking"
	"github.com/marmos91/nfsstream/pkg/stream"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyNFSDefaults(&cfg.NFS)
	applyStreamDefaults(&cfg.Stream)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyNFSDefaults(cfg *NFSConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = rpc.DefaultTimeout
	}
	if cfg.PortmapPort == 0 {
		cfg.PortmapPort = portmap.DefaultPort
	}
}

func applyStreamDefaults(cfg *StreamConfig) {
	if cfg.MaxTransfer == 0 {
		cfg.MaxTransfer = bytesize.ByteSize(stream.DefaultMaxTransfer)
	}
	if cfg.Workers == 0 {
		cfg.Workers = blocking.DefaultWorkers
	}
	if cfg.Compression == "" {
		cfg.Compression = "none"
	}
	cfg.Compression = strings.ToLower(cfg.Compression)
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
