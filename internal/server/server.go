// Package server exposes the HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/server/handler"
	"github.com/alanyoungcy/setupwatch/internal/server/middleware"
	"github.com/alanyoungcy/setupwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey enables static key authentication when set.
	APIKey          string
	RateLimit       int
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Proposals *handler.ProposalHandler
	Setups    *handler.SetupHandler
	Calendar  *handler.CalendarHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	cfg        Config
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: Logging, CORS, RateLimit, Auth (outermost first). wsHub and limiter
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/proposals", handlers.Proposals.Propose)
	mux.HandleFunc("GET /api/decisions", handlers.Proposals.ListDecisions)
	mux.HandleFunc("GET /api/decisions/{id}", handlers.Proposals.GetDecision)

	mux.HandleFunc("POST /api/prices", handlers.Setups.SubmitPrices)
	mux.HandleFunc("GET /api/setups", handlers.Setups.ListSetups)
	mux.HandleFunc("GET /api/setups/{id}", handlers.Setups.GetSetup)
	mux.HandleFunc("POST /api/setups/{id}/invalidate", handlers.Setups.Invalidate)
	mux.HandleFunc("GET /api/setups/{id}/lesson", handlers.Setups.GetLesson)
	mux.HandleFunc("GET /api/lessons", handlers.Setups.ListLessons)

	mux.HandleFunc("GET /api/calendar", handlers.Calendar.ListEvents)
	mux.HandleFunc("POST /api/calendar", handlers.Calendar.UpsertEvent)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		cfg:    cfg,
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
