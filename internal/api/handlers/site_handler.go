package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/services"
	"example.com/rtpalette/services/palette/internal/tracing"
)

// SiteHandler handles return site HTTP requests
type SiteHandler struct {
	sites  *services.SiteService
	tracer tracing.Tracer
}

// NewSiteHandler creates a new site handler
func NewSiteHandler(sites *services.SiteService, tracer tracing.Tracer) *SiteHandler {
	return &SiteHandler{
		sites:  sites,
		tracer: tracer,
	}
}

// HandleListSites returns all return sites with quota state
func (h *SiteHandler) HandleListSites(c *gin.Context) {
	sites, err := h.sites.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sites": sites})
}

// HandleGetSite returns one site with its quota
func (h *SiteHandler) HandleGetSite(c *gin.Context) {
	site, err := h.sites.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// UpdateQuotaRequest changes a site's quota configuration
type UpdateQuotaRequest struct {
	DailyMax      *int                 `json:"dailyMax"`
	Priority      *models.SitePriority `json:"priority"`
	AvailableDays *models.IntList      `json:"availableDays"`
	OpeningHours  *models.OpeningHours `json:"openingHours"`
}

// HandleUpdateQuota applies a quota configuration change
func (h *SiteHandler) HandleUpdateQuota(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-update-quota")
	defer h.tracer.EndTransaction(txn)

	var req UpdateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid quota update request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	quota, err := h.sites.UpdateQuota(c.Request.Context(), c.Param("id"), services.QuotaUpdateRequest{
		DailyMax:      req.DailyMax,
		Priority:      req.Priority,
		AvailableDays: req.AvailableDays,
		OpeningHours:  req.OpeningHours,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": quota})
}

// RegisterRoutes registers the handler's routes
func (h *SiteHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/palette/sites", h.HandleListSites)
	router.GET("/palette/sites/:id", h.HandleGetSite)
	router.POST("/palette/sites/:id/quota", h.HandleUpdateQuota)
}
