// Package api serves the crime classification HTTP interface.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/crimewatch/crimewatch/internal/analysis"
	"github.com/crimewatch/crimewatch/internal/doctor"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerConfig struct {
	Port           int
	BindAddr       string
	Version        string
	Service        analysis.AnalysisService
	Tokens         TokenStore
	Runner         *analysis.Runner
	Doctor         *doctor.CachedDoctor
	Database       Pinger
	Logger         *slog.Logger
	StartTime      time.Time
	MaskDegraded   bool
	MaxUploadBytes int64
	CORSOrigins    []string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	bind := cfg.BindAddr
	if bind == "" {
		bind = "127.0.0.1"
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", bind, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
