package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SiteScorer orders eligible candidates best-first. Implementations must not
// add or remove candidates, only reorder them.
type SiteScorer interface {
	ScoreSites(ctx context.Context, req MatchRequest, candidates []Candidate) ([]Candidate, error)
}

// PriorityDistanceScorer is the deterministic ranking: priority tier
// INTERNAL > NETWORK > EXTERNAL, ascending distance within a tier.
type PriorityDistanceScorer struct{}

// ScoreSites implements SiteScorer.
func (PriorityDistanceScorer) ScoreSites(_ context.Context, _ MatchRequest, candidates []Candidate) ([]Candidate, error) {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	for i := range ranked {
		ranked[i].Score = float64(1000*(3-ranked[i].Priority.Rank())) - ranked[i].Distance
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := ranked[i].Priority.Rank(), ranked[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return ranked[i].Distance < ranked[j].Distance
	})
	return ranked, nil
}

// AffretIAScorer delegates ranking refinement to the Affret.IA scoring
// service. Every call is time-bounded and any failure degrades to the
// deterministic fallback, so matching never blocks on the collaborator.
type AffretIAScorer struct {
	baseURL  string
	client   *http.Client
	fallback SiteScorer
}

// NewAffretIAScorer creates a scorer backed by the Affret.IA service.
func NewAffretIAScorer(baseURL string, timeout time.Duration) *AffretIAScorer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &AffretIAScorer{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		fallback: PriorityDistanceScorer{},
	}
}

type scoreRequest struct {
	DeliveryLocation struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"deliveryLocation"`
	CompanyID  string               `json:"companyId,omitempty"`
	Quantity   int                  `json:"quantity,omitempty"`
	Candidates []scoreCandidateItem `json:"candidates"`
}

type scoreCandidateItem struct {
	SiteID         string  `json:"siteId"`
	Distance       float64 `json:"distance"`
	Priority       string  `json:"priority"`
	QuotaRemaining int     `json:"quotaRemaining"`
}

type scoreResponse struct {
	Ranked []struct {
		SiteID string  `json:"siteId"`
		Score  float64 `json:"score"`
	} `json:"ranked"`
}

// ScoreSites implements SiteScorer.
func (s *AffretIAScorer) ScoreSites(ctx context.Context, req MatchRequest, candidates []Candidate) ([]Candidate, error) {
	ranked, err := s.score(ctx, req, candidates)
	if err != nil {
		log.Warn().Err(err).Msg("Affret.IA scoring unavailable, falling back to distance ranking")
		return s.fallback.ScoreSites(ctx, req, candidates)
	}
	return ranked, nil
}

func (s *AffretIAScorer) score(ctx context.Context, req MatchRequest, candidates []Candidate) ([]Candidate, error) {
	payload := scoreRequest{CompanyID: req.CompanyID, Quantity: req.Quantity}
	payload.DeliveryLocation.Lat = req.Location.Lat
	payload.DeliveryLocation.Lng = req.Location.Lng
	for _, c := range candidates {
		payload.Candidates = append(payload.Candidates, scoreCandidateItem{
			SiteID:         c.SiteID,
			Distance:       c.Distance,
			Priority:       string(c.Priority),
			QuotaRemaining: c.QuotaRemaining,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal scoring request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/affretia/score/sites", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build scoring request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "scoring request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("scoring service returned status %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "failed to decode scoring response")
	}
	if len(decoded.Ranked) != len(candidates) {
		return nil, errors.Errorf("scoring service ranked %d of %d candidates", len(decoded.Ranked), len(candidates))
	}

	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.SiteID] = c
	}

	ranked := make([]Candidate, 0, len(candidates))
	for _, item := range decoded.Ranked {
		c, ok := byID[item.SiteID]
		if !ok {
			return nil, errors.Errorf("scoring service returned unknown site %s", item.SiteID)
		}
		c.Score = item.Score
		ranked = append(ranked, c)
		delete(byID, item.SiteID)
	}
	return ranked, nil
}
