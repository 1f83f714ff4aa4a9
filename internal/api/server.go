package api

import (
	"context"
	"net/http"
	"time"

	"example.com/rtpalette/services/palette/config"
	"example.com/rtpalette/services/palette/internal/api/handlers"
	"example.com/rtpalette/services/palette/internal/metrics"
	"example.com/rtpalette/services/palette/internal/services"
	"example.com/rtpalette/services/palette/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Services bundles the domain services the API exposes.
type Services struct {
	Cheques  *services.ChequeService
	Ledger   *services.LedgerService
	Sites    *services.SiteService
	Disputes *services.DisputeService
	Matcher  services.Matcher
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	services   Services
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, svcs Services, metricsCollector *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:   cfg,
		services: svcs,
		metrics:  metricsCollector,
		tracer:   tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}
	router.Use(traceIDMiddleware())
	router.Use(requestMetrics(s.metrics))

	// Register handlers
	chequeHandler := handlers.NewChequeHandler(s.services.Cheques, s.services.Matcher, s.tracer)
	chequeHandler.RegisterRoutes(router)

	ledgerHandler := handlers.NewLedgerHandler(s.services.Ledger, s.tracer)
	ledgerHandler.RegisterRoutes(router)

	siteHandler := handlers.NewSiteHandler(s.services.Sites, s.tracer)
	siteHandler.RegisterRoutes(router)

	disputeHandler := handlers.NewDisputeHandler(s.services.Disputes, s.tracer)
	disputeHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	return router
}

// traceIDMiddleware echoes the caller's trace ID, minting one when absent, so
// cross-service flows can be correlated in the logs.
func traceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("x-trace-id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header("x-trace-id", traceID)
		c.Next()
	}
}

// requestMetrics feeds the request counters and latency timers.
func requestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		m.IncrementCounter("http_requests")
		m.RecordTimer("http_request_ms", time.Since(start).Milliseconds())
		if c.Writer.Status() >= http.StatusInternalServerError {
			m.RecordError("http_requests")
		} else {
			m.RecordSuccess("http_requests")
		}
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	// Create a timeout context for shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
