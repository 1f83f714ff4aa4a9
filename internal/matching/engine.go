package matching

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/rtpalette/services/palette/internal/geo"
	"example.com/rtpalette/services/palette/internal/models"
)

// ErrNoEligibleSite is returned when no return site survives filtering, or
// when every surviving site lost its last quota slot before reservation.
var ErrNoEligibleSite = errors.New("no eligible return site")

// DefaultRadiusKm is the matching radius applied when none is configured.
const DefaultRadiusKm = 30.0

// DefaultMaxAlternatives caps the ranked alternatives returned alongside the
// matched site.
const DefaultMaxAlternatives = 5

// MatchRequest describes a delivery point looking for a return site.
type MatchRequest struct {
	Location  models.GeoPoint
	CompanyID string
	Quantity  int
}

// Candidate is an eligible site with its computed matching attributes.
type Candidate struct {
	Site           models.Site      `json:"site"`
	SiteID         string           `json:"siteId"`
	Distance       float64          `json:"distance"`
	QuotaRemaining int              `json:"quotaRemaining"`
	Priority       models.SitePriority `json:"priority"`
	Score          float64          `json:"score"`
}

// Result is the outcome of a match: the best site plus ranked alternatives
// for operator visibility.
type Result struct {
	Best         Candidate
	Alternatives []Candidate
}

// SiteLister provides the candidate site set.
type SiteLister interface {
	ListWithQuotas(ctx context.Context) ([]models.Site, error)
}

// QuotaReserver provides atomic slot reservation on a site.
type QuotaReserver interface {
	Reserve(ctx context.Context, siteID string) (bool, error)
	Release(ctx context.Context, siteID string) error
}

// Engine matches delivery locations to eligible return sites.
type Engine struct {
	sites           SiteLister
	quotas          QuotaReserver
	scorer          SiteScorer
	radiusKm        float64
	maxAlternatives int
	now             func() time.Time
}

// NewEngine creates a new matching engine. A nil scorer falls back to the
// deterministic priority/distance ordering.
func NewEngine(sites SiteLister, quotas QuotaReserver, scorer SiteScorer, radiusKm float64, maxAlternatives int) *Engine {
	if scorer == nil {
		scorer = PriorityDistanceScorer{}
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if maxAlternatives <= 0 {
		maxAlternatives = DefaultMaxAlternatives
	}
	return &Engine{
		sites:           sites,
		quotas:          quotas,
		scorer:          scorer,
		radiusKm:        radiusKm,
		maxAlternatives: maxAlternatives,
		now:             time.Now,
	}
}

// Match filters and ranks candidate sites without reserving anything.
func (e *Engine) Match(ctx context.Context, req MatchRequest) (*Result, error) {
	ranked, err := e.rankedCandidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, ErrNoEligibleSite
	}
	return e.buildResult(ranked, 0), nil
}

// MatchAndReserve ranks candidates and atomically reserves a quota slot on
// the best one, falling back to the next candidate whenever a concurrent
// caller took the last slot first. The reservation and the decision are one
// atomic step per site, so the last free slot can never be double-booked.
func (e *Engine) MatchAndReserve(ctx context.Context, req MatchRequest) (*Result, error) {
	ranked, err := e.rankedCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	for i, candidate := range ranked {
		reserved, err := e.quotas.Reserve(ctx, candidate.SiteID)
		if err != nil {
			return nil, err
		}
		if reserved {
			return e.buildResult(ranked, i), nil
		}
		log.Debug().
			Str("site_id", candidate.SiteID).
			Msg("Lost quota race on candidate site, trying next alternative")
	}

	return nil, ErrNoEligibleSite
}

func (e *Engine) rankedCandidates(ctx context.Context, req MatchRequest) ([]Candidate, error) {
	sites, err := e.sites.ListWithQuotas(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load candidate sites")
	}

	weekday := int(e.now().Weekday())
	from := geo.Point{Lat: req.Location.Lat, Lng: req.Location.Lng}

	var candidates []Candidate
	for _, site := range sites {
		if site.Quota == nil {
			continue
		}
		quota := *site.Quota

		if quota.Consumed >= quota.DailyMax {
			continue
		}
		if !quota.AvailableDays.Contains(weekday) {
			continue
		}

		distance := geo.Distance(from, geo.Point{Lat: site.GPS.Lat, Lng: site.GPS.Lng})
		if distance > e.radiusKm {
			continue
		}

		candidates = append(candidates, Candidate{
			Site:           site,
			SiteID:         site.ID,
			Distance:       distance,
			QuotaRemaining: quota.DailyMax - quota.Consumed,
			Priority:       effectivePriority(site, quota, req.CompanyID),
		})
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	ranked, err := e.scorer.ScoreSites(ctx, req, candidates)
	if err != nil {
		// The scorer contract is advisory: a failing scorer degrades to
		// the deterministic ordering instead of failing the match.
		log.Warn().Err(err).Msg("Site scorer failed, using deterministic ranking")
		ranked, _ = PriorityDistanceScorer{}.ScoreSites(ctx, req, candidates)
	}
	return ranked, nil
}

func (e *Engine) buildResult(ranked []Candidate, best int) *Result {
	alternatives := make([]Candidate, 0, e.maxAlternatives)
	for i, c := range ranked {
		if i == best {
			continue
		}
		if len(alternatives) == e.maxAlternatives {
			break
		}
		alternatives = append(alternatives, c)
	}
	return &Result{Best: ranked[best], Alternatives: alternatives}
}

// effectivePriority resolves the tier used for ranking: a site marked
// INTERNAL only outranks the network for its own company's deliveries.
func effectivePriority(site models.Site, quota models.SiteQuota, companyID string) models.SitePriority {
	if quota.Priority == models.PriorityInternal && site.CompanyID != companyID {
		return models.PriorityNetwork
	}
	return quota.Priority
}
