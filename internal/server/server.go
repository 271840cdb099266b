// Package server provides the admin HTTP surface for iloscout.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/version"
	"github.com/HerbHall/iloscout/pkg/models"
	"github.com/HerbHall/iloscout/pkg/netaddr"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

// operationalPaths are exempt from IP filtering and rate limiting so
// probes and scrapers keep working.
var operationalPaths = []string{"/healthz", "/readyz", "/metrics"}

// PluginSource provides the server with module metadata.
// Defined here (consumer-side) rather than importing the concrete registry.
type PluginSource interface {
	All() []plugin.Plugin
}

// ClientSource provides the tracked client snapshots.
type ClientSource interface {
	UnauthenticatedSnapshots() []models.UnauthenticatedSnapshot
	AuthenticatedSnapshots() []models.AuthenticatedSnapshot
}

// SweepSource provides the most recent sweep's active addresses.
type SweepSource interface {
	ActiveAddresses() []netaddr.IPv4Address
}

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// Server is the iloscout admin HTTP server.
type Server struct {
	httpServer *http.Server
	plugins    PluginSource
	clients    ClientSource
	sweeps     SweepSource
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// New creates a Server with middleware and routes. allowedIP restricts the
// versioned API to one client address; empty admits everyone.
func New(addr string, plugins PluginSource, clients ClientSource, sweeps SweepSource, logger *zap.Logger, ready ReadinessChecker, allowedIP string) *Server {
	mux := http.NewServeMux()

	s := &Server{
		plugins: plugins,
		clients: clients,
		sweeps:  sweeps,
		logger:  logger,
		mux:     mux,
		ready:   ready,
	}

	s.registerRoutes()

	// Middleware chain: outermost listed first.
	middlewares := []Middleware{
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, operationalPaths),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		AllowedIPMiddleware(allowedIP, operationalPaths, logger),
		RateLimitMiddleware(100, 200, operationalPaths),
	}

	handler := Chain(mux, middlewares...)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up all core routes.
func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Versioned API endpoints.
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.HandleFunc("GET /api/v1/clients", s.handleClients)
	s.mux.HandleFunc("GET /api/v1/discovery/active", s.handleActive)
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

// handleHealthz is a liveness probe -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// handleReadyz checks readiness -- returns 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Modules map[string]plugin.HealthStatus `json:"modules"`
}

// PluginResponse describes a registered module.
type PluginResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// ClientsResponse is the response for GET /api/v1/clients.
type ClientsResponse struct {
	Unauthenticated []models.UnauthenticatedSnapshot `json:"unauthenticated"`
	Authenticated   []models.AuthenticatedSnapshot   `json:"authenticated"`
}

// handleHealth returns per-module health with version information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Service: "iloscout",
		Version: version.Map(),
		Modules: make(map[string]plugin.HealthStatus),
	}
	for _, p := range s.plugins.All() {
		if hc, ok := p.(plugin.HealthChecker); ok {
			resp.Modules[p.Info().Name] = hc.Health(r.Context())
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePlugins returns the list of registered modules.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.plugins.All()
	info := make([]PluginResponse, 0, len(plugins))
	for _, p := range plugins {
		pi := p.Info()
		info = append(info, PluginResponse{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

// handleClients returns snapshots of every tracked client.
func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	resp := ClientsResponse{
		Unauthenticated: s.clients.UnauthenticatedSnapshots(),
		Authenticated:   s.clients.AuthenticatedSnapshots(),
	}
	if resp.Unauthenticated == nil {
		resp.Unauthenticated = []models.UnauthenticatedSnapshot{}
	}
	if resp.Authenticated == nil {
		resp.Authenticated = []models.AuthenticatedSnapshot{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleActive returns the addresses the most recent sweep found active.
func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	addrs := s.sweeps.ActiveAddresses()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]string{"active": out})
}
