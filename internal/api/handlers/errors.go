package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/services"
)

// writeError maps a service error onto its HTTP status and error code. The
// wrapped detail message is what the caller sees; unknown errors are masked
// as a plain 500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case errors.Is(err, services.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, services.ErrSignatureMismatch):
		status, code = http.StatusBadRequest, "SIGNATURE_MISMATCH"
	case errors.Is(err, services.ErrChequeNotFound):
		status, code = http.StatusNotFound, "CHEQUE_NOT_FOUND"
	case errors.Is(err, services.ErrSiteNotFound):
		status, code = http.StatusNotFound, "SITE_NOT_FOUND"
	case errors.Is(err, services.ErrDisputeNotFound):
		status, code = http.StatusNotFound, "DISPUTE_NOT_FOUND"
	// Business-rule violations are 400s: the request is well-formed but the
	// rules forbid it. Only a lost compare-and-swap is a 409, since that one
	// is retryable after a re-fetch.
	case errors.Is(err, services.ErrInvalidStateTransition):
		status, code = http.StatusBadRequest, "INVALID_STATE_TRANSITION"
	case errors.Is(err, services.ErrDuplicateOpenDispute):
		status, code = http.StatusBadRequest, "DUPLICATE_OPEN_DISPUTE"
	case errors.Is(err, matching.ErrNoEligibleSite):
		status, code = http.StatusBadRequest, "NO_ELIGIBLE_SITE"
	case errors.Is(err, services.ErrStatusConflict):
		status, code = http.StatusConflict, "STATUS_CONFLICT"
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(status, gin.H{"error": "internal error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
