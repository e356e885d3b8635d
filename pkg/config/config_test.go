package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/nfsstream/internal/bytesize"
	"github.com/marmos91/nfsstream/pkg/nfs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
nfs:
  url: "nfs://filer/srv/data?uid=1000&gid=1000"
  timeout: 5s
stream:
  max_transfer: 64KiB
  rate_limit: 1MiB
  compression: ZSTD
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default output 'stderr', got %q", cfg.Logging.Output)
	}
	if cfg.NFS.URL != "nfs://filer/srv/data?uid=1000&gid=1000" {
		t.Errorf("Unexpected URL %q", cfg.NFS.URL)
	}
	if cfg.NFS.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", cfg.NFS.Timeout)
	}
	if cfg.NFS.PortmapPort != 111 {
		t.Errorf("Expected default portmap port 111, got %d", cfg.NFS.PortmapPort)
	}
	if cfg.Stream.MaxTransfer != 64*bytesize.KiB {
		t.Errorf("Expected max_transfer 64KiB, got %v", cfg.Stream.MaxTransfer)
	}
	if cfg.Stream.RateLimit != bytesize.MiB {
		t.Errorf("Expected rate_limit 1MiB, got %v", cfg.Stream.RateLimit)
	}
	if cfg.Stream.Compression != "zstd" {
		t.Errorf("Expected compression normalized to zstd, got %q", cfg.Stream.Compression)
	}
}

func TestLoad_NumericSizes(t *testing.T) {
	path := writeConfig(t, "stream:\n  max_transfer: 4096\n  workers: 2\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Stream.MaxTransfer != 4096 {
		t.Errorf("Expected max_transfer 4096, got %d", cfg.Stream.MaxTransfer)
	}
	if cfg.Stream.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Stream.Workers)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults without a config file, got: %v", err)
	}
	if cfg.Stream.MaxTransfer != 16*bytesize.KiB {
		t.Errorf("Expected default max_transfer 16KiB, got %v", cfg.Stream.MaxTransfer)
	}
	if cfg.Stream.Workers != 64 {
		t.Errorf("Expected default workers 64, got %d", cfg.Stream.Workers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NFSSTREAM_NFS_URL", "nfs://127.0.0.1/export")
	t.Setenv("NFSSTREAM_STREAM_MAX_TRANSFER", "32KiB")
	t.Setenv("NFSSTREAM_METRICS_ENABLED", "true")
	t.Setenv("NFSSTREAM_TELEMETRY_PROFILING_PROFILE_TYPES", "cpu,goroutines")

	path := writeConfig(t, "stream:\n  max_transfer: 64KiB\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.NFS.URL != "nfs://127.0.0.1/export" {
		t.Errorf("Expected URL from environment, got %q", cfg.NFS.URL)
	}
	if cfg.Stream.MaxTransfer != 32*bytesize.KiB {
		t.Errorf("Expected environment to win over file, got %v", cfg.Stream.MaxTransfer)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Port != 9090 {
		t.Errorf("Expected metrics enabled on 9090, got %+v", cfg.Metrics)
	}
	if got := strings.Join(cfg.Telemetry.Profiling.ProfileTypes, ","); got != "cpu,goroutines" {
		t.Errorf("Expected profile types from environment, got %q", got)
	}

	// Environment also applies without a file.
	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.NFS.URL != "nfs://127.0.0.1/export" {
		t.Errorf("Expected URL from environment, got %q", cfg.NFS.URL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"BadSize":     "stream:\n  max_transfer: lots\n",
		"TooLarge":    "stream:\n  max_transfer: 2MiB\n",
		"BadDuration": "nfs:\n  timeout: soon\n",
		"BadURL":      "nfs:\n  url: http://filer/export\n",
		"BadYAML":     "logging: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := MustLoad(path)
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
	if !strings.Contains(err.Error(), "nfsstream config init --config "+path) {
		t.Errorf("Expected init instructions, got: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.NFS.URL = "nfs://filer/export?stable=file_sync"
	cfg.Stream.MaxTransfer = 128 * bytesize.KiB
	cfg.NFS.Timeout = 90 * time.Second

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if loaded.NFS.URL != cfg.NFS.URL || loaded.Stream.MaxTransfer != cfg.Stream.MaxTransfer || loaded.NFS.Timeout != cfg.NFS.Timeout {
		t.Errorf("Round trip mismatch: %+v vs %+v", loaded, cfg)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := GetDefaultConfig()
	if cfg.Limiter() != nil {
		t.Error("Expected no limiter by default")
	}

	cfg.Stream.RateLimit = 4 * bytesize.KiB
	l := cfg.Limiter()
	if l == nil {
		t.Fatal("Expected a limiter")
	}
	if l.Burst() != int(cfg.Stream.MaxTransfer) {
		t.Errorf("Expected burst to cover a full transfer, got %d", l.Burst())
	}

	pool := cfg.NewPool(nil)
	defer pool.Stop(time.Second)
	if pool.Stats().Workers != cfg.Stream.Workers {
		t.Errorf("Expected %d workers, got %d", cfg.Stream.Workers, pool.Stats().Workers)
	}

	var _ []nfs.Option = cfg.ClientOptions(pool, MetricsResult{})
	if n := len(cfg.StreamOptions(nil)); n != 3 {
		t.Errorf("Expected 3 stream options with a limiter, got %d", n)
	}
}
