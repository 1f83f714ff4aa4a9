package matching

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rtpalette/services/palette/internal/models"
)

func TestAffretIAScorerRanksFromService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/affretia/score/sites", r.URL.Path)

		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Candidates, 2)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"ranked": []map[string]interface{}{
				{"siteId": "b", "score": 0.9},
				{"siteId": "a", "score": 0.4},
			},
		})
	}))
	defer srv.Close()

	scorer := NewAffretIAScorer(srv.URL, time.Second)
	ranked, err := scorer.ScoreSites(context.Background(), MatchRequest{}, []Candidate{
		{SiteID: "a", Priority: models.PriorityNetwork, Distance: 2},
		{SiteID: "b", Priority: models.PriorityNetwork, Distance: 8},
	})

	require.NoError(t, err)
	require.Equal(t, "b", ranked[0].SiteID)
	require.InDelta(t, 0.9, ranked[0].Score, 0.001)
	require.Equal(t, "a", ranked[1].SiteID)
}

func TestAffretIAScorerFallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	scorer := NewAffretIAScorer(srv.URL, time.Second)
	ranked, err := scorer.ScoreSites(context.Background(), MatchRequest{}, []Candidate{
		{SiteID: "far", Priority: models.PriorityNetwork, Distance: 20},
		{SiteID: "near", Priority: models.PriorityNetwork, Distance: 2},
	})

	// Deterministic fallback ordering.
	require.NoError(t, err)
	require.Equal(t, "near", ranked[0].SiteID)
}

func TestAffretIAScorerRejectsPartialRanking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ranked": []map[string]interface{}{{"siteId": "a", "score": 1.0}},
		})
	}))
	defer srv.Close()

	scorer := NewAffretIAScorer(srv.URL, time.Second)
	ranked, err := scorer.ScoreSites(context.Background(), MatchRequest{}, []Candidate{
		{SiteID: "a", Priority: models.PriorityNetwork, Distance: 2},
		{SiteID: "b", Priority: models.PriorityNetwork, Distance: 8},
	})

	// A partial ranking is treated as a failure and falls back.
	require.NoError(t, err)
	require.Len(t, ranked, 2)
}
