// Package api implements the external HTTP surface of §4.4 and §6: the
// versioned authorization-query endpoints consumed by other systems
// (/api/v1/*, bearer-token authenticated, and the legacy /api/v0/*
// endpoints it superseded), plus the shared JSON error envelope and CORS
// contract every path under /api/** honors.
//
// Grounded on the teacher's internal/api/server.go: a Server wrapping an
// http.ServeMux built with Go 1.22+ method+path patterns, a Handler()
// composing middleware around the mux, a context-based Start(ctx) with
// graceful shutdown, and a statusResponseWriter/writeJSON helper trio for
// logging and rendering responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/datasektionen/hive-sub000/internal/hive/apiauth"
	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/resolver"
	"github.com/datasektionen/hive-sub000/internal/hive/services"
)

// Config configures the external API server.
type Config struct {
	ListenAddr string
}

// Server is the external authorization-query API server.
type Server struct {
	cfg      Config
	services *services.Services
	auth     *apiauth.Middleware
	resolver *resolver.Resolver
	logger   *zap.Logger
	mux      *http.ServeMux
	now      func() time.Time
}

// NewServer constructs a Server bound to svc, authenticating /api/v1/*
// requests via auth. logger defaults to zap.NewNop() if nil. res is the
// optional identity resolver used to enrich tagged-user listings with
// display names; a nil res leaves those listings username-only.
func NewServer(cfg Config, svc *services.Services, auth *apiauth.Middleware, res *resolver.Resolver, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		services: svc,
		auth:     auth,
		resolver: res,
		logger:   logger.Named("api"),
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler: request logging around
// CORS preflight handling around the route mux.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.corsMiddleware(s.mux))
}

// Start serves Handler() on cfg.ListenAddr until ctx is canceled, then
// shuts down gracefully with a bounded timeout.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting api server", zap.String("addr", s.cfg.ListenAddr))

	httpSrv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: serve after shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: serve: %w", err)
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.mux.HandleFunc("GET /api/v0/user/{username}", s.v0AllSystems)
	s.mux.HandleFunc("GET /api/v0/user/{username}/{system}", s.v0OneSystem)
	s.mux.HandleFunc("GET /api/v0/user/{username}/{system}/{permKey}", s.v0Check)
	s.mux.HandleFunc("GET /api/v0/token/{secret}", s.v0AllSystems)
	s.mux.HandleFunc("GET /api/v0/token/{secret}/{system}", s.v0OneSystem)
	s.mux.HandleFunc("GET /api/v0/token/{secret}/{system}/{permKey}", s.v0Check)

	v1 := http.NewServeMux()
	v1.HandleFunc("GET /api/v1/user/{u}/permissions", s.v1Permissions)
	v1.HandleFunc("GET /api/v1/user/{u}/permission/{p}", s.v1Holds)
	v1.HandleFunc("GET /api/v1/user/{u}/permission/{p}/scope/{sigma}", s.v1HoldsScope)
	v1.HandleFunc("GET /api/v1/user/{u}/permission/{p}/scopes", s.v1Scopes)
	v1.HandleFunc("GET /api/v1/token/{secret}/permissions", s.v1Permissions)
	v1.HandleFunc("GET /api/v1/token/{secret}/permission/{p}", s.v1Holds)
	v1.HandleFunc("GET /api/v1/token/{secret}/permission/{p}/scope/{sigma}", s.v1HoldsScope)
	v1.HandleFunc("GET /api/v1/token/{secret}/permission/{p}/scopes", s.v1Scopes)
	v1.HandleFunc("GET /api/v1/tagged/{tag}/users", s.v1TaggedUsers)
	v1.HandleFunc("GET /api/v1/tagged/{tag}/groups", s.v1TaggedGroups)
	v1.HandleFunc("GET /api/v1/tagged/{tag}/memberships/{u}", s.v1TaggedMemberships)
	v1.HandleFunc("GET /api/v1/group/{domain}/{id}/members", s.v1GroupMembers)
	v1.HandleFunc("/", s.handleNotFound)

	s.mux.Handle("/api/v1/", s.auth.Wrap(renderError, v1))

	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	renderError(w, r, hiveerr.ForKey(hiveerr.KeyAPIPathUnknown))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		if r.URL.Path == "/healthz" {
			return
		}
		s.logger.Info("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode))
	})
}
