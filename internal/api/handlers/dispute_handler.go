package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/services"
	"example.com/rtpalette/services/palette/internal/tracing"
)

// DisputeHandler handles dispute workflow HTTP requests
type DisputeHandler struct {
	disputes *services.DisputeService
	tracer   tracing.Tracer
}

// NewDisputeHandler creates a new dispute handler
func NewDisputeHandler(disputes *services.DisputeService, tracer tracing.Tracer) *DisputeHandler {
	return &DisputeHandler{
		disputes: disputes,
		tracer:   tracer,
	}
}

// OpenDisputeRequest represents an incoming dispute claim
type OpenDisputeRequest struct {
	ChequeID         string               `json:"chequeId" binding:"required"`
	ClaimantID       string               `json:"claimantId" binding:"required"`
	Reason           models.DisputeReason `json:"reason" binding:"required"`
	Comments         string               `json:"comments"`
	Photos           []string             `json:"photos"`
	DisputedQuantity int                  `json:"disputedQuantity"`
}

// HandleOpenDispute opens a dispute and freezes the cheque
func (h *DisputeHandler) HandleOpenDispute(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-open-dispute")
	defer h.tracer.EndTransaction(txn)

	var req OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid dispute request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "cheque_id", req.ChequeID)
	h.tracer.AddAttribute(txn, "reason", string(req.Reason))

	dispute, err := h.disputes.Open(c.Request.Context(), services.OpenRequest{
		ChequeID:         req.ChequeID,
		ClaimantID:       req.ClaimantID,
		Reason:           req.Reason,
		Comments:         req.Comments,
		Photos:           req.Photos,
		DisputedQuantity: req.DisputedQuantity,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// HandleListDisputes lists disputes, optionally filtered by cheque
func (h *DisputeHandler) HandleListDisputes(c *gin.Context) {
	disputes, err := h.disputes.List(c.Request.Context(), c.Query("chequeId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes})
}

// HandleGetDispute returns one dispute
func (h *DisputeHandler) HandleGetDispute(c *gin.Context) {
	dispute, err := h.disputes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// HandleAcknowledgeDispute marks a dispute as under review
func (h *DisputeHandler) HandleAcknowledgeDispute(c *gin.Context) {
	dispute, err := h.disputes.Acknowledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ResolveDisputeRequest is a back-office ruling
type ResolveDisputeRequest struct {
	Upheld     *bool  `json:"upheld" binding:"required"`
	Resolution string `json:"resolution" binding:"required"`
}

// HandleResolveDispute rules on a dispute
func (h *DisputeHandler) HandleResolveDispute(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-resolve-dispute")
	defer h.tracer.EndTransaction(txn)

	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid dispute resolution request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	dispute, err := h.disputes.Resolve(c.Request.Context(), c.Param("id"), services.ResolveRequest{
		Upheld:     *req.Upheld,
		Resolution: req.Resolution,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// HandleCloseDispute archives a resolved or rejected dispute
func (h *DisputeHandler) HandleCloseDispute(c *gin.Context) {
	dispute, err := h.disputes.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// RegisterRoutes registers the handler's routes
func (h *DisputeHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/palette/disputes", h.HandleOpenDispute)
	router.GET("/palette/disputes", h.HandleListDisputes)
	router.GET("/palette/disputes/:id", h.HandleGetDispute)
	router.POST("/palette/disputes/:id/acknowledge", h.HandleAcknowledgeDispute)
	router.POST("/palette/disputes/:id/resolve", h.HandleResolveDispute)
	router.POST("/palette/disputes/:id/close", h.HandleCloseDispute)
}
