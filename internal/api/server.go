// Package api provides the HTTP API server for Stratum.
// It uses the Echo framework to serve the cluster REST endpoints and a
// WebSocket stream of cluster lifecycle events.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"evalgo.org/stratum/internal/auth"
	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/config"
	"evalgo.org/stratum/internal/validation"
	"evalgo.org/stratum/internal/version"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators of the server.
type Dependencies struct {
	Orchestrator *cluster.Orchestrator
	Health       HealthChecker
	// Hub must be the event sink the orchestrator publishes to.
	Hub    *Hub
	Logger *slog.Logger
}

// Server represents the Stratum API server.
type Server struct {
	echo       *echo.Echo
	orch       *cluster.Orchestrator
	health     HealthChecker
	config     *config.Config
	wsHub      *Hub
	authMiddle *auth.Middleware
	validator  *validation.Validator
	log        *slog.Logger
	started    time.Time
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	authMiddle, err := auth.NewMiddleware(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler

	s := &Server{
		echo:       e,
		orch:       deps.Orchestrator,
		health:     deps.Health,
		config:     cfg,
		wsHub:      hub,
		authMiddle: authMiddle,
		validator:  validation.New(),
		log:        logger.With("component", "api"),
		started:    time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Hub returns the websocket hub. The caller runs it.
func (s *Server) Hub() *Hub {
	return s.wsHub
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestID())
	s.echo.Use(RequestLogger(s.log))
	s.echo.Use(middleware.Recover())
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowHeaders: []string{
				echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
				auth.HeaderAPIKey, s.config.Cluster.ProjectHeader,
			},
		}))
	}

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	v1 := s.echo.Group("/api/v1")
	v1.Use(s.authMiddle.RequireAuth, s.projectScope)

	clusters := v1.Group("/clusters")
	clusters.GET("", s.listClusters)
	clusters.POST("", s.createCluster)
	clusters.GET("/:clusterId", s.getCluster, ValidateIDFormat)
	clusters.PATCH("/:clusterId", s.patchCluster, ValidateIDFormat)
	clusters.DELETE("/:clusterId", s.deleteCluster, ValidateIDFormat)

	clusters.GET("/:clusterId/hosts", s.listClusterHosts, ValidateIDFormat)
	clusters.POST("/:clusterId/hosts", s.addClusterHost, ValidateIDFormat)
	clusters.GET("/:clusterId/hosts/:hostId", s.getClusterHost, ValidateIDFormat)
	clusters.DELETE("/:clusterId/hosts/:hostId", s.removeClusterHost, ValidateIDFormat)

	ws := v1.Group("/ws")
	ws.GET("/events", s.handleEvents)
	ws.GET("/stats", s.eventStats)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	s.log.Info("starting api server",
		"address", addr,
		"tls", s.config.Server.TLSEnabled,
		"storage", s.config.Storage.Driver,
		"auth", s.config.Security.AuthEnabled)

	if s.config.Server.TLSEnabled {
		return s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	}
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down api server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	body := map[string]interface{}{
		"service": "stratum",
		"version": version.Version,
		"storage": s.config.Storage.Driver,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = "storage unreachable"
			body["details"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}

	body["status"] = "healthy"
	return c.JSON(http.StatusOK, body)
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
