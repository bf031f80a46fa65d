// Package http provides HTTP server implementation and request handlers.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/config"
	fmHTTP "github.com/allisson/recoverability/internal/failedmessage/http"
	"github.com/allisson/recoverability/internal/metrics"
	notificationHTTP "github.com/allisson/recoverability/internal/notification/http"
	operationsHTTP "github.com/allisson/recoverability/internal/operations/http"
	retryHTTP "github.com/allisson/recoverability/internal/retry/http"
)

// Handlers groups the handlers mounted under /api/v1.
type Handlers struct {
	FailedMessages *fmHTTP.FailedMessageHandler
	Groups         *fmHTTP.GroupHandler
	Retries        *retryHTTP.RetryHandler
	CountsStream   *notificationHTTP.CountsStreamHandler
	Operations     *operationsHTTP.OperationHandler
}

// Server represents the HTTP server
type Server struct {
	db     *sql.DB
	server *http.Server
	logger *slog.Logger
	router *gin.Engine
}

// NewServer creates a new HTTP server
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		logger: logger,
		server: &http.Server{
			Addr:        fmt.Sprintf("%s:%d", host, port),
			ReadTimeout: 15 * time.Second,
			// The counts stream stays open, so there is no write timeout.
			IdleTimeout: 60 * time.Second,
		},
	}
}

// SetupRouter builds the gin router with the operator API.
func (s *Server) SetupRouter(cfg *config.Config, handlers Handlers, metricsProvider *metrics.Provider) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := operatorCORS(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	api := router.Group("/api/v1")
	if cfg.OperatorAPIKeyHash != "" {
		api.Use(APIKeyAuthMiddleware(cfg.OperatorAPIKeyHash, s.logger))
	} else {
		s.logger.Warn("OPERATOR_API_KEY_HASH is not set, the operator API is not authenticated")
	}
	if cfg.RateLimitEnabled {
		api.Use(RateLimitMiddleware(cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst, s.logger))
	}

	failures := api.Group("/failures")
	{
		failures.GET("", handlers.FailedMessages.ListHandler)
		failures.GET("/counts", handlers.FailedMessages.CountsHandler)
		failures.GET("/counts/stream", handlers.CountsStream.StreamHandler)
		failures.POST("/archive", handlers.FailedMessages.ArchiveHandler)
		failures.POST("/unarchive", handlers.FailedMessages.UnarchiveHandler)
		failures.POST("/unarchive/range", handlers.FailedMessages.UnarchiveRangeHandler)
		failures.POST("/retry", handlers.Retries.RetryByIDsHandler)
		failures.GET("/:id", handlers.FailedMessages.GetHandler)
		failures.POST("/:id/retry", handlers.Retries.RetryOneHandler)
		failures.POST("/:id/revert", handlers.Retries.RevertHandler)
	}

	groups := api.Group("/groups")
	{
		groups.GET("", handlers.Groups.ListHandler)
		groups.POST("/:id/retry", handlers.Retries.RetryGroupHandler)
		groups.POST("/:id/archive", handlers.Groups.ArchiveHandler)
		groups.POST("/:id/unarchive", handlers.Groups.UnarchiveHandler)
		groups.PUT("/:id/comment", handlers.Groups.EditCommentHandler)
		groups.DELETE("/:id/comment", handlers.Groups.DeleteCommentHandler)
	}

	api.GET("/endpoints", handlers.FailedMessages.ListEndpointsHandler)
	api.POST("/endpoints/:name/retry", handlers.Retries.RetryEndpointHandler)
	api.GET("/queues", handlers.FailedMessages.ListQueuesHandler)
	api.POST("/queues/retry", handlers.Retries.RetryQueueHandler)

	retries := api.Group("/retries")
	{
		retries.POST("/all", handlers.Retries.RetryAllHandler)
		retries.GET("/batches", handlers.Retries.ListBatchesHandler)
		retries.GET("/pending", handlers.Retries.ListPendingHandler)
		retries.POST("/pending/resolve", handlers.Retries.ResolvePendingHandler)
		retries.POST("/pending/retry", handlers.Retries.RetryPendingHandler)
	}

	api.GET("/operations", handlers.Operations.ListHandler)

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("router is not configured")
	}
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

// healthHandler reports that the process is up.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports whether the store is reachable.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{"database": "ok"}

	if s.db == nil {
		components["database"] = "error"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn("readiness check failed", slog.Any("error", err))
			components["database"] = "error"
		}
	}

	if components["database"] != "ok" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}
