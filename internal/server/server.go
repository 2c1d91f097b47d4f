// Package server exposes the camera inventory and the orchestrator over a
// JSON HTTP API.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/orchestrator"
	"github.com/HerbHall/camlink/internal/plugin"
	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/internal/version"
)

// Deps are the components the API serves. Attempts, Plugins, Bus and
// Gatherer are optional.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Cameras      services.CameraRepository
	Attempts     services.AttemptRepository
	Plugins      *plugin.Registry
	Bus          *event.Bus
	Gatherer     prometheus.Gatherer
}

// Options tune the HTTP server.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins are host patterns, e.g. "dash.example.com" or
	// "*.lan", accepted on the events websocket in addition to the
	// server's own origin.
	AllowedOrigins []string
}

// Server is the CamLink HTTP API.
type Server struct {
	httpServer *http.Server
	deps       Deps
	opts       Options
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a server listening on addr.
func New(addr string, deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 60 * time.Second
	}
	mux := http.NewServeMux()

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("server"),
		mux:    mux,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.registerCoreRoutes()
	s.registerCameraRoutes()
	s.mountPluginRoutes()

	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/strategies", s.handleStrategies)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	if s.deps.Bus != nil {
		s.mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	}
	if s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

// mountPluginRoutes registers plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	if s.deps.Plugins == nil {
		return
	}
	for pluginName, routes := range s.deps.Plugins.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack supports the websocket upgrade on /api/v1/events.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// middleware stamps the version header, recovers handler panics and logs
// each request.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		rec.Header().Set("X-CamLink-Version", version.Short())

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked", zap.String("path", r.URL.Path), zap.Any("panic", p))
				InternalError(rec, "internal error", r.URL.Path)
			}
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(rec, r)
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "camlink",
		"version": version.Map(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	type strategyResponse struct {
		Name     string `json:"name"`
		Priority int    `json:"priority"`
	}
	sel := s.deps.Orchestrator.Selector()
	regs := sel.All()
	out := make([]strategyResponse, 0, len(regs))
	for _, r := range regs {
		out = append(out, strategyResponse{Name: r.Name, Priority: r.Priority})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":      sel.Order().String(),
		"strategies": out,
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if s.deps.Plugins != nil {
		for _, p := range s.deps.Plugins.All() {
			names = append(names, p.Name())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": names})
}
