package handlers

import (
	"net/http"
	"runtime"

	"example.com/rtpalette/services/palette/internal/metrics"
	"example.com/rtpalette/services/palette/internal/tracing"

	"github.com/gin-gonic/gin"
)

// MetricsHandler exposes the collector's snapshots and the component health
// roll-up.
type MetricsHandler struct {
	metrics *metrics.Metrics
	tracer  tracing.Tracer
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(metrics *metrics.Metrics, tracer tracing.Tracer) *MetricsHandler {
	return &MetricsHandler{
		metrics: metrics,
		tracer:  tracer,
	}
}

// HandleGetMetrics returns every collected metric
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	txn := h.tracer.StartTransaction("get-metrics")
	defer h.tracer.EndTransaction(txn)

	// Runtime gauges are sampled on read, not continuously.
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	h.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
	h.metrics.SetGauge("heap_alloc_bytes", int64(ms.HeapAlloc))

	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}

// HandleGetHealthCheck rolls the monitored components up into one status:
// 503 when any dependency probe is failing.
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	components := h.metrics.GetHealthChecks()

	healthy := true
	for _, up := range components {
		if !up {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":         healthy,
		"components":     components,
		"uptime_seconds": h.metrics.GetUptimeSeconds(),
	})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
}
