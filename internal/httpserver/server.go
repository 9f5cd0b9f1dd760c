// Package httpserver wraps net/http.Server with the lifecycle contract
// used by the system manager.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marbledao/market-layer/internal/config"
	"github.com/marbledao/market-layer/pkg/logger"
)

// Server is a lifecycle-managed HTTP server.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// New builds the server around a handler.
func New(cfg config.ServerConfig, handler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpserver")
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Address(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Name() string { return "http-server" }

// Start begins serving in the background.
func (s *Server) Start(context.Context) error {
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server exited")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
