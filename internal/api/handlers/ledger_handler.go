package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/rtpalette/services/palette/internal/services"
	"example.com/rtpalette/services/palette/internal/tracing"
)

// LedgerHandler handles pallet ledger HTTP requests
type LedgerHandler struct {
	ledger *services.LedgerService
	tracer tracing.Tracer
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledger *services.LedgerService, tracer tracing.Tracer) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		tracer: tracer,
	}
}

// HandleGetLedger returns a company's current balance with its entry history
// in insertion order. An optional limit query parameter caps the history.
func (h *LedgerHandler) HandleGetLedger(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "code": "VALIDATION_FAILED"})
			return
		}
		limit = parsed
	}

	companyID := c.Param("companyId")
	snapshot, err := h.ledger.Balance(c.Request.Context(), companyID)
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := h.ledger.History(c.Request.Context(), companyID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ledger": gin.H{
			"companyId": companyID,
			"balance":   snapshot.Balance,
			"history":   history,
		},
	})
}

// AdjustLedgerRequest is a back-office manual correction
type AdjustLedgerRequest struct {
	Delta    int     `json:"delta" binding:"required"`
	ChequeID *string `json:"chequeId"`
}

// HandleAdjustLedger appends a manual adjustment entry
func (h *LedgerHandler) HandleAdjustLedger(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-adjust-ledger")
	defer h.tracer.EndTransaction(txn)

	var req AdjustLedgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid ledger adjustment request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	entry, err := h.ledger.Adjust(c.Request.Context(), c.Param("companyId"), req.Delta, req.ChequeID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// RegisterRoutes registers the handler's routes
func (h *LedgerHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/palette/ledger/:companyId", h.HandleGetLedger)
	router.POST("/palette/ledger/:companyId/adjust", h.HandleAdjustLedger)
}
