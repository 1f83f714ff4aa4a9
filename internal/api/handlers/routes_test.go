package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/services"
	"example.com/rtpalette/services/palette/internal/tracing"
)

type stubMatcher struct {
	result *matching.Result
	err    error
}

func (s *stubMatcher) Match(ctx context.Context, req matching.MatchRequest) (*matching.Result, error) {
	return s.result, s.err
}

func (s *stubMatcher) MatchAndReserve(ctx context.Context, req matching.MatchRequest) (*matching.Result, error) {
	return s.result, s.err
}

func testRouter(matcher services.Matcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	tracer := &tracing.NewRelicTracer{}

	NewChequeHandler(nil, matcher, tracer).RegisterRoutes(router)
	NewLedgerHandler(nil, tracer).RegisterRoutes(router)
	NewSiteHandler(nil, tracer).RegisterRoutes(router)
	NewDisputeHandler(nil, tracer).RegisterRoutes(router)
	return router
}

func TestRegisteredRoutes(t *testing.T) {
	router := testRouter(&stubMatcher{})

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	// The paths the frontends' palettesApi client calls.
	expected := []string{
		"POST /palette/cheques/generate",
		"GET /palette/cheques/:id",
		"POST /palette/cheques/:id/deposit",
		"POST /palette/cheques/:id/receive",
		"GET /palette/sites",
		"GET /palette/sites/:id",
		"POST /palette/sites/:id/quota",
		"POST /palette/match/site",
		"GET /palette/ledger/:companyId",
		"GET /palette/disputes",
		"POST /palette/disputes",
		"GET /palette/disputes/:id",
		"POST /palette/disputes/:id/acknowledge",
		"POST /palette/disputes/:id/resolve",
		"POST /palette/disputes/:id/close",
	}
	for _, route := range expected {
		require.True(t, registered[route], "route not served: %s", route)
	}
}

func TestMatchSiteResponseShape(t *testing.T) {
	matcher := &stubMatcher{result: &matching.Result{
		Best:         matching.Candidate{SiteID: "site-1", Distance: 4.2},
		Alternatives: []matching.Candidate{{SiteID: "site-2", Distance: 9.8}},
	}}
	router := testRouter(matcher)

	body := strings.NewReader(`{"deliveryLocation":{"lat":48.8566,"lng":2.3522},"fromCompanyId":"company-a"}`)
	req := httptest.NewRequest(http.MethodPost, "/palette/match/site", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	require.Contains(t, decoded, "bestSite")
	require.Contains(t, decoded, "alternatives")
}

func TestMatchSiteNoEligibleSite(t *testing.T) {
	router := testRouter(&stubMatcher{err: matching.ErrNoEligibleSite})

	body := strings.NewReader(`{"deliveryLocation":{"lat":48.8566,"lng":2.3522}}`)
	req := httptest.NewRequest(http.MethodPost, "/palette/match/site", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "NO_ELIGIBLE_SITE")
}
