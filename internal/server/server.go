package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/viralink-ai/viralink/api"
	"github.com/viralink-ai/viralink/internal/auth"
	"github.com/viralink-ai/viralink/internal/engine"
	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/ratelimit"
	"github.com/viralink-ai/viralink/internal/storage"
)

// Config holds the settings the HTTP server needs.
type Config struct {
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New constructs the server with all routes and middleware wired.
// limiter may be nil to disable rate limiting.
func New(cfg Config, eng *engine.Engine, db *storage.DB, jwtMgr *auth.JWTManager, limiter ratelimit.Limiter, logger *slog.Logger) *Server {
	h := NewHandlers(eng, db, jwtMgr, logger, cfg.MaxRequestBodyBytes)

	reqID := func(r *http.Request) string { return RequestIDFromContext(r.Context()) }

	// Auth exchange is limited per client IP, activation per authenticated
	// user. Reads are not limited.
	limitAuth := ratelimit.Middleware(limiter, ratelimit.Rule{Prefix: "auth"}, ratelimit.IPKeyFunc, reqID)
	limitActivate := ratelimit.Middleware(limiter, ratelimit.Rule{Prefix: "activate"}, func(r *http.Request) string {
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			return claims.UserID
		}
		return ""
	}, reqID)

	operator := requireRole(model.RoleOperator)
	viewer := requireRole(model.RoleViewer)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /openapi.yaml", http.HandlerFunc(handleOpenAPI))
	mux.Handle("POST /auth/token", limitAuth(http.HandlerFunc(h.HandleAuthToken)))

	mux.Handle("POST /v1/routes", operator(limitActivate(http.HandlerFunc(h.HandleActivateRoute))))
	mux.Handle("GET /v1/routes/{route_id}", viewer(http.HandlerFunc(h.HandleGetRoute)))
	mux.Handle("GET /v1/sessions/{session_id}/routes", viewer(http.HandlerFunc(h.HandleListSessionRoutes)))
	mux.Handle("PATCH /v1/routes/{route_id}/metrics", operator(http.HandlerFunc(h.HandleUpdateMetrics)))

	// Outermost first: request ID, logging, tracing, then auth.
	var handler http.Handler = mux
	handler = authMiddleware(jwtMgr, handler)
	handler = tracingMiddleware(handler)
	handler = loggingMiddleware(logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Handler exposes the fully wired handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(api.OpenAPISpec)
}
