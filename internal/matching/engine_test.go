package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rtpalette/services/palette/internal/models"
)

// paris is the delivery point used by the fixtures; distances below are
// relative to it.
var paris = models.GeoPoint{Lat: 48.8566, Lng: 2.3522}

type fakeSiteLister struct {
	sites []models.Site
}

func (f *fakeSiteLister) ListWithQuotas(context.Context) ([]models.Site, error) {
	return f.sites, nil
}

type fakeReserver struct {
	full     map[string]bool
	reserved []string
}

func (f *fakeReserver) Reserve(_ context.Context, siteID string) (bool, error) {
	if f.full[siteID] {
		return false, nil
	}
	f.reserved = append(f.reserved, siteID)
	return true, nil
}

func (f *fakeReserver) Release(context.Context, string) error { return nil }

func site(id, companyID string, lat, lng float64, priority models.SitePriority, dailyMax, consumed int) models.Site {
	return models.Site{
		ID:        id,
		CompanyID: companyID,
		GPS:       models.GeoPoint{Lat: lat, Lng: lng},
		Quota: &models.SiteQuota{
			SiteID:        id,
			DailyMax:      dailyMax,
			Consumed:      consumed,
			Priority:      priority,
			AvailableDays: models.IntList{0, 1, 2, 3, 4, 5, 6},
		},
	}
}

func testEngine(sites []models.Site, reserver *fakeReserver) *Engine {
	e := NewEngine(&fakeSiteLister{sites: sites}, reserver, nil, DefaultRadiusKm, DefaultMaxAlternatives)
	e.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return e
}

func TestMatchPrefersCloserSite(t *testing.T) {
	sites := []models.Site{
		site("far", "co-x", 48.95, 2.50, models.PriorityNetwork, 50, 0),     // ~16 km out
		site("near", "co-y", 48.87, 2.36, models.PriorityNetwork, 50, 0),    // ~1.6 km out
		site("distant", "co-z", 49.10, 2.90, models.PriorityNetwork, 50, 0), // outside radius
	}

	engine := testEngine(sites, &fakeReserver{})
	result, err := engine.Match(context.Background(), MatchRequest{Location: paris})

	require.NoError(t, err)
	require.Equal(t, "near", result.Best.SiteID)
	require.Len(t, result.Alternatives, 1)
	require.Equal(t, "far", result.Alternatives[0].SiteID)
}

func TestMatchPriorityBeatsDistance(t *testing.T) {
	sites := []models.Site{
		site("network-near", "co-x", 48.87, 2.36, models.PriorityNetwork, 50, 0),
		site("internal-far", "company-a", 48.95, 2.50, models.PriorityInternal, 50, 0),
	}

	engine := testEngine(sites, &fakeReserver{})

	// For company-a's delivery, its own INTERNAL site wins despite the
	// distance.
	result, err := engine.Match(context.Background(), MatchRequest{Location: paris, CompanyID: "company-a"})
	require.NoError(t, err)
	require.Equal(t, "internal-far", result.Best.SiteID)

	// For anyone else the INTERNAL tier does not apply.
	result, err = engine.Match(context.Background(), MatchRequest{Location: paris, CompanyID: "company-b"})
	require.NoError(t, err)
	require.Equal(t, "network-near", result.Best.SiteID)
}

func TestMatchFiltersExhaustedQuota(t *testing.T) {
	sites := []models.Site{
		site("exhausted", "co-x", 48.87, 2.36, models.PriorityNetwork, 10, 10),
		site("open", "co-y", 48.90, 2.40, models.PriorityNetwork, 10, 9),
	}

	engine := testEngine(sites, &fakeReserver{})
	result, err := engine.Match(context.Background(), MatchRequest{Location: paris})

	require.NoError(t, err)
	require.Equal(t, "open", result.Best.SiteID)
	require.Empty(t, result.Alternatives)
}

func TestMatchFiltersClosedDays(t *testing.T) {
	closed := site("closed-today", "co-x", 48.87, 2.36, models.PriorityNetwork, 10, 0)
	closed.Quota.AvailableDays = models.IntList{0, 6} // weekends only; fixture clock is a Wednesday

	engine := testEngine([]models.Site{closed}, &fakeReserver{})
	_, err := engine.Match(context.Background(), MatchRequest{Location: paris})
	require.ErrorIs(t, err, ErrNoEligibleSite)
}

func TestMatchNoEligibleSite(t *testing.T) {
	engine := testEngine(nil, &fakeReserver{})
	_, err := engine.Match(context.Background(), MatchRequest{Location: paris})
	require.ErrorIs(t, err, ErrNoEligibleSite)
}

func TestMatchAndReserveFallsBackOnLostRace(t *testing.T) {
	sites := []models.Site{
		site("best", "co-x", 48.87, 2.36, models.PriorityNetwork, 10, 9),
		site("second", "co-y", 48.90, 2.40, models.PriorityNetwork, 10, 0),
	}
	// The last slot on "best" disappears between ranking and reservation.
	reserver := &fakeReserver{full: map[string]bool{"best": true}}

	engine := testEngine(sites, reserver)
	result, err := engine.MatchAndReserve(context.Background(), MatchRequest{Location: paris})

	require.NoError(t, err)
	require.Equal(t, "second", result.Best.SiteID)
	require.Equal(t, []string{"second"}, reserver.reserved)
}

func TestMatchAndReserveAllSlotsTaken(t *testing.T) {
	sites := []models.Site{
		site("a", "co-x", 48.87, 2.36, models.PriorityNetwork, 10, 9),
		site("b", "co-y", 48.90, 2.40, models.PriorityNetwork, 10, 9),
	}
	reserver := &fakeReserver{full: map[string]bool{"a": true, "b": true}}

	engine := testEngine(sites, reserver)
	_, err := engine.MatchAndReserve(context.Background(), MatchRequest{Location: paris})
	require.ErrorIs(t, err, ErrNoEligibleSite)
}

type failingScorer struct{}

func (failingScorer) ScoreSites(context.Context, MatchRequest, []Candidate) ([]Candidate, error) {
	return nil, context.DeadlineExceeded
}

func TestMatchDegradesWhenScorerFails(t *testing.T) {
	sites := []models.Site{
		site("near", "co-x", 48.87, 2.36, models.PriorityNetwork, 10, 0),
		site("far", "co-y", 48.95, 2.50, models.PriorityNetwork, 10, 0),
	}

	engine := NewEngine(&fakeSiteLister{sites: sites}, &fakeReserver{}, failingScorer{}, DefaultRadiusKm, DefaultMaxAlternatives)
	result, err := engine.Match(context.Background(), MatchRequest{Location: paris})

	require.NoError(t, err)
	require.Equal(t, "near", result.Best.SiteID)
}

func TestPriorityDistanceScore(t *testing.T) {
	candidates := []Candidate{
		{SiteID: "ext-near", Priority: models.PriorityExternal, Distance: 1},
		{SiteID: "net-far", Priority: models.PriorityNetwork, Distance: 29},
		{SiteID: "net-near", Priority: models.PriorityNetwork, Distance: 3},
	}

	ranked, err := PriorityDistanceScorer{}.ScoreSites(context.Background(), MatchRequest{}, candidates)
	require.NoError(t, err)
	require.Equal(t, "net-near", ranked[0].SiteID)
	require.Equal(t, "net-far", ranked[1].SiteID)
	require.Equal(t, "ext-near", ranked[2].SiteID)

	// Score follows the tier bonus minus distance shape.
	require.InDelta(t, 1000*2-3, ranked[0].Score, 0.5)
}
