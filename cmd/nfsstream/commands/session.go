package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsstream/internal/api"
	"github.com/marmos91/nfsstream/internal/cli/output"
	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/internal/telemetry"
	"github.com/marmos91/nfsstream/pkg/blocking"
	"github.com/marmos91/nfsstream/pkg/config"
	"github.com/marmos91/nfsstream/pkg/nfs"
)

// session is one mounted export plus the process-wide plumbing around it:
// logger, tracing, profiling, metrics and the blocking-call pool.
type session struct {
	cfg     *config.Config
	client  *nfs.Client
	pool    *blocking.Pool
	printer *output.Printer

	// closers run in reverse order after the export is unmounted
	closers []func(context.Context) error
}

// loadConfig loads the configuration and applies flag overrides on top.
func (g *GlobalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.ConfigFile)
	if err != nil {
		return nil, err
	}

	if g.URL != "" {
		cfg.NFS.URL = g.URL
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = strings.ToUpper(g.LogLevel)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.NFS.URL == "" {
		return nil, errors.New("no NFS URL configured: pass --url or set nfs.url")
	}
	return cfg, nil
}

// printer writes results to the command's stdout and status lines to its
// stderr, so stdout stays clean for file contents and JSON documents.
func (g *GlobalFlags) printer(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(g.Output)
	if err != nil {
		return nil, err
	}

	msg := cmd.ErrOrStderr()
	color := false
	if f, ok := msg.(*os.File); ok && !g.NoColor {
		color = logger.IsTerminal(f.Fd())
	}
	return output.NewPrinter(cmd.OutOrStdout(), msg, format, color), nil
}

// openSession mounts the configured export. The caller must close the
// session.
func openSession(cmd *cobra.Command, g *GlobalFlags) (*session, error) {
	ctx := cmd.Context()

	printer, err := g.printer(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	s := &session{cfg: cfg, printer: printer}

	shutdownTracing, err := telemetry.Init(ctx, cfg.TracingConfig(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.closers = append(s.closers, shutdownTracing)

	shutdownProfiling, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error { return shutdownProfiling() })

	mr := config.InitializeMetrics(cfg)
	s.pool = cfg.NewPool(mr.Pool)

	if cfg.Metrics.Enabled {
		if err := s.startStatusServer(mr); err != nil {
			s.close()
			return nil, err
		}
	}

	client, err := nfs.Mount(ctx, cfg.NFS.URL, cfg.ClientOptions(s.pool, mr)...)
	if err != nil {
		s.close()
		return nil, err
	}
	s.client = client

	logger.Debug("Export mounted",
		logger.SessionID(client.SessionID()),
		logger.Server(client.URL().Host),
		logger.Export(client.URL().Export))
	return s, nil
}

func (s *session) startStatusServer(mr config.MetricsResult) error {
	srv, err := api.NewServer(api.Config{
		Port:    s.cfg.Metrics.Port,
		Service: "nfsstream",
		Version: Version,
		Pool:    s.pool,
		Metrics: mr.Handler,
	})
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Warn("Metrics server stopped", logger.Err(err))
		}
	}()
	logger.Info("Metrics server listening", "addr", srv.Addr().String())

	s.closers = append(s.closers, func(ctx context.Context) error {
		cancel()
		return srv.Stop(ctx)
	})
	return nil
}

// close unmounts the export, then stops the pool and the plumbing. The
// pool outlives Umount because unmounting is itself a blocking call.
// Failures are logged: by now the command has produced its result.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.client != nil {
		if err := s.client.Umount(ctx); err != nil {
			logger.Warn("Unmount failed", logger.Err(err))
		}
	}
	if s.pool != nil {
		s.pool.Stop(s.cfg.ShutdownTimeout)
		if at, err := s.pool.LastError(); err != nil {
			logger.Debug("Last background error", logger.Err(err), "at", at)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			logger.Warn("Shutdown step failed", logger.Err(err))
		}
	}
}
