package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/services"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", services.ErrValidation, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"signature mismatch", services.ErrSignatureMismatch, http.StatusBadRequest, "SIGNATURE_MISMATCH"},
		{"unknown cheque", services.ErrChequeNotFound, http.StatusNotFound, "CHEQUE_NOT_FOUND"},
		{"unknown site", services.ErrSiteNotFound, http.StatusNotFound, "SITE_NOT_FOUND"},
		{"double deposit", errors.Wrap(services.ErrInvalidStateTransition, "cannot deposit a cheque in status DEPOSE"), http.StatusBadRequest, "INVALID_STATE_TRANSITION"},
		{"no eligible site", matching.ErrNoEligibleSite, http.StatusBadRequest, "NO_ELIGIBLE_SITE"},
		{"duplicate open dispute", services.ErrDuplicateOpenDispute, http.StatusBadRequest, "DUPLICATE_OPEN_DISPUTE"},
		{"lost compare-and-swap", errors.Wrap(services.ErrStatusConflict, "cheque moved during deposit"), http.StatusConflict, "STATUS_CONFLICT"},
		{"unknown error masked", errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(c, tc.err)

			require.Equal(t, tc.status, w.Code)
			require.Contains(t, w.Body.String(), tc.code)
		})
	}
}

func TestWriteErrorMasksInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, errors.New("dsn=postgres://user:secret@db:5432"))

	require.NotContains(t, w.Body.String(), "secret")
}
