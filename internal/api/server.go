// Package api serves the status endpoints (/health, /metrics) of a running
// nfsstream process.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/pkg/blocking"
)

// Config configures a Server.
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port int

	Service string
	Version string

	// Pool is reported by the health endpoints. Optional.
	Pool *blocking.Pool

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the status HTTP server.
type Server struct {
	server       *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// NewServer binds the listening socket so Addr is valid before Start.
func NewServer(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("status server listen: %w", err)
	}

	return &Server{
		server: &http.Server{
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Status server listening", "addr", s.listener.Addr().String())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// ctx is already cancelled; give shutdown its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("status server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		// Serve closes the listener itself; this covers a server never started.
		defer func() { _ = s.listener.Close() }()
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("status server shutdown: %w", err)
			logger.Error("Status server shutdown error", logger.KeyError, err)
			return
		}
		logger.Debug("Status server stopped")
	})
	return shutdownErr
}
