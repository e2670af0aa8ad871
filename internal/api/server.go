package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"
)

// Options configure the HTTP control surface.
type Options struct {
	Addr           string
	RequestTimeout time.Duration
	AllowedOrigins []string
	CORSMaxAge     int
	Health         http.Handler
	Metrics        http.Handler
}

// Server wraps the HTTP server for the ingestion API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a server around ing. It does not start listening.
func NewServer(ing Ingester, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(ing, logger, opts.RequestTimeout)
	router := h.NewRouter(opts.Health, opts.Metrics)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         opts.CORSMaxAge,
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           c.Handler(router),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      writeTimeout(opts.RequestTimeout),
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// writeTimeout outlasts a bounded run. Unbounded runs get no write deadline.
func writeTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 0
	}
	return requestTimeout + 10*time.Second
}

// Handler exposes the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting HTTP API server", "addr", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
