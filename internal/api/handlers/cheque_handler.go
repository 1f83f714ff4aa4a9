package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/services"
	"example.com/rtpalette/services/palette/internal/tracing"
)

// ChequeHandler handles cheque lifecycle HTTP requests
type ChequeHandler struct {
	cheques *services.ChequeService
	matcher services.Matcher
	tracer  tracing.Tracer
}

// NewChequeHandler creates a new cheque handler
func NewChequeHandler(cheques *services.ChequeService, matcher services.Matcher, tracer tracing.Tracer) *ChequeHandler {
	return &ChequeHandler{
		cheques: cheques,
		matcher: matcher,
		tracer:  tracer,
	}
}

// GenerateChequeRequest represents an incoming cheque generation request
type GenerateChequeRequest struct {
	OrderID          string           `json:"orderId" binding:"required"`
	FromCompanyID    string           `json:"fromCompanyId" binding:"required"`
	Quantity         int              `json:"quantity" binding:"required"`
	TransporterPlate string           `json:"transporterPlate"`
	DeliveryLocation *models.GeoPoint `json:"deliveryLocation" binding:"required"`
	IdempotencyKey   *uuid.UUID       `json:"idempotencyKey"`
}

// GenerateChequeResponse is the minted cheque plus the matching outcome
type GenerateChequeResponse struct {
	Cheque       *models.Cheque       `json:"cheque"`
	MatchedSite  matching.Candidate   `json:"matchedSite"`
	Alternatives []matching.Candidate `json:"alternatives"`
	Replayed     bool                 `json:"replayed"`
}

// HandleGenerateCheque mints a new cheque
func (h *ChequeHandler) HandleGenerateCheque(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-generate-cheque")
	defer h.tracer.EndTransaction(txn)

	var req GenerateChequeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid cheque generation request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "order_id", req.OrderID)
	h.tracer.AddAttribute(txn, "from_company_id", req.FromCompanyID)
	h.tracer.AddAttribute(txn, "quantity", req.Quantity)

	result, err := h.cheques.Generate(c.Request.Context(), services.GenerateRequest{
		OrderID:          req.OrderID,
		FromCompanyID:    req.FromCompanyID,
		Quantity:         req.Quantity,
		TransporterPlate: req.TransporterPlate,
		DeliveryLocation: req.DeliveryLocation,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, GenerateChequeResponse{
		Cheque:       result.Cheque,
		MatchedSite:  result.MatchedSite,
		Alternatives: result.Alternatives,
		Replayed:     result.Replayed,
	})
}

// HandleGetCheque returns one cheque by ID or QR token
func (h *ChequeHandler) HandleGetCheque(c *gin.Context) {
	cheque, err := h.cheques.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cheque": cheque})
}

// DepositChequeRequest represents a transporter deposit scan
type DepositChequeRequest struct {
	TransporterSignature string           `json:"transporterSignature" binding:"required"`
	Geolocation          *models.GeoPoint `json:"geolocation" binding:"required"`
	Photo                string           `json:"photo"`
}

// TransitionResponse is a completed deposit or receive
type TransitionResponse struct {
	Cheque           *models.Cheque `json:"cheque"`
	QuantityMismatch bool           `json:"quantityMismatch"`
	Replayed         bool           `json:"replayed"`
}

// HandleDepositCheque records a deposit scan
func (h *ChequeHandler) HandleDepositCheque(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-deposit-cheque")
	defer h.tracer.EndTransaction(txn)

	var req DepositChequeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid deposit request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	result, err := h.cheques.Deposit(c.Request.Context(), c.Param("id"), services.DepositRequest{
		TransporterSignature: req.TransporterSignature,
		Geolocation:          req.Geolocation,
		Photo:                req.Photo,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, TransitionResponse{Cheque: result.Cheque, Replayed: result.Replayed})
}

// ReceiveChequeRequest represents a logistician reception scan
type ReceiveChequeRequest struct {
	ReceiverSignature string           `json:"receiverSignature" binding:"required"`
	Geolocation       *models.GeoPoint `json:"geolocation" binding:"required"`
	Photo             string           `json:"photo"`
	QuantityReceived  *int             `json:"quantityReceived"`
}

// HandleReceiveCheque records a reception scan and settles the ledgers
func (h *ChequeHandler) HandleReceiveCheque(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-receive-cheque")
	defer h.tracer.EndTransaction(txn)

	var req ReceiveChequeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid receive request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	result, err := h.cheques.Receive(c.Request.Context(), c.Param("id"), services.ReceiveRequest{
		ReceiverSignature: req.ReceiverSignature,
		Geolocation:       req.Geolocation,
		Photo:             req.Photo,
		QuantityReceived:  req.QuantityReceived,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, TransitionResponse{
		Cheque:           result.Cheque,
		QuantityMismatch: result.QuantityMismatch,
		Replayed:         result.Replayed,
	})
}

// MatchRequest previews site matching for a delivery location without
// reserving anything
type MatchRequest struct {
	DeliveryLocation *models.GeoPoint `json:"deliveryLocation" binding:"required"`
	FromCompanyID    string           `json:"fromCompanyId"`
	Quantity         int              `json:"quantity"`
}

// HandleMatchSites previews the matching outcome for a delivery location
func (h *ChequeHandler) HandleMatchSites(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-match-sites")
	defer h.tracer.EndTransaction(txn)

	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		h.tracer.RecordError(txn, err)
		return
	}

	result, err := h.matcher.Match(c.Request.Context(), matching.MatchRequest{
		Location:  *req.DeliveryLocation,
		CompanyID: req.FromCompanyID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bestSite":     result.Best,
		"alternatives": result.Alternatives,
	})
}

// RegisterRoutes registers the handler's routes
func (h *ChequeHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/palette/cheques/generate", h.HandleGenerateCheque)
	router.GET("/palette/cheques/:id", h.HandleGetCheque)
	router.POST("/palette/cheques/:id/deposit", h.HandleDepositCheque)
	router.POST("/palette/cheques/:id/receive", h.HandleReceiveCheque)
	router.POST("/palette/match/site", h.HandleMatchSites)
}
