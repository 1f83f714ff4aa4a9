package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/rtpalette/services/palette/internal/cache"
	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/repositories"
)

// DefaultReservationTTL is how long an EMIS cheque may hold a quota slot
// before the abandonment sweep reclaims it.
const DefaultReservationTTL = 7 * 24 * time.Hour

// SiteService manages return sites and their daily quotas.
type SiteService struct {
	sites   SiteStore
	quotas  QuotaStore
	cheques ChequeStore
	cache   *cache.RedisCache
}

// NewSiteService creates a new site service backed by gorm repositories.
func NewSiteService(db *gorm.DB, redisCache *cache.RedisCache) *SiteService {
	return &SiteService{
		sites:   repositories.NewSiteRepository(db),
		quotas:  repositories.NewQuotaRepository(db),
		cheques: repositories.NewChequeRepository(db),
		cache:   redisCache,
	}
}

// SiteWithQuota is a site joined with its quota state for operator views.
type SiteWithQuota struct {
	Site  models.Site       `json:"site"`
	Quota *models.SiteQuota `json:"quota"`
}

// List returns all return sites with their current quota state.
func (s *SiteService) List(ctx context.Context) ([]SiteWithQuota, error) {
	sites, err := s.sites.ListWithQuotas(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SiteWithQuota, 0, len(sites))
	for _, site := range sites {
		out = append(out, SiteWithQuota{Site: site, Quota: site.Quota})
	}
	return out, nil
}

// Get returns one site with its quota.
func (s *SiteService) Get(ctx context.Context, siteID string) (*SiteWithQuota, error) {
	if siteID == "" {
		return nil, validationError("siteId is required")
	}

	if s.cache.Enabled() {
		var cached SiteWithQuota
		if err := s.cache.Get(ctx, cache.GetSiteCacheKey(siteID), &cached); err == nil {
			return &cached, nil
		}
	}

	site, err := s.sites.GetByID(ctx, siteID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	quota, err := s.quotas.Get(ctx, siteID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	result := &SiteWithQuota{Site: *site, Quota: quota}
	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cache.GetSiteCacheKey(siteID), result, time.Minute); err != nil {
			log.Warn().Err(err).Str("site_id", siteID).Msg("Failed to cache site")
		}
	}
	return result, nil
}

// QuotaUpdateRequest changes a site's quota configuration. Nil fields are
// left untouched; consumed is never settable from the outside.
type QuotaUpdateRequest struct {
	DailyMax      *int
	Priority      *models.SitePriority
	AvailableDays *models.IntList
	OpeningHours  *models.OpeningHours
}

// UpdateQuota applies a quota configuration change.
func (s *SiteService) UpdateQuota(ctx context.Context, siteID string, req QuotaUpdateRequest) (*models.SiteQuota, error) {
	if siteID == "" {
		return nil, validationError("siteId is required")
	}

	updates := map[string]interface{}{}
	if req.DailyMax != nil {
		if *req.DailyMax < 0 {
			return nil, validationError("dailyMax cannot be negative")
		}
		updates["daily_max"] = *req.DailyMax
	}
	if req.Priority != nil {
		switch *req.Priority {
		case models.PriorityInternal, models.PriorityNetwork, models.PriorityExternal:
		default:
			return nil, validationError("unknown priority tier")
		}
		updates["priority"] = *req.Priority
	}
	if req.AvailableDays != nil {
		for _, d := range *req.AvailableDays {
			if d < 0 || d > 6 {
				return nil, validationError("availableDays entries must be 0..6")
			}
		}
		updates["available_days"] = *req.AvailableDays
	}
	if req.OpeningHours != nil {
		updates["opening_hours"] = *req.OpeningHours
	}
	if len(updates) == 0 {
		return nil, validationError("no quota fields to update")
	}

	quota, err := s.quotas.Update(ctx, siteID, updates)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}

	if s.cache.Enabled() {
		if err := s.cache.Delete(ctx, cache.GetSiteCacheKey(siteID)); err != nil {
			log.Warn().Err(err).Str("site_id", siteID).Msg("Failed to invalidate site cache")
		}
	}
	return quota, nil
}

// ResetDailyQuotas zeroes every quota counter that has not been reset today.
// Idempotent: running it twice on the same day resets nothing the second
// time.
func (s *SiteService) ResetDailyQuotas(ctx context.Context) (int64, error) {
	today := time.Now().UTC().Format("2006-01-02")
	reset, err := s.quotas.ResetAll(ctx, today)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		log.Info().Int64("sites", reset).Str("day", today).Msg("Daily site quotas reset")
	}
	return reset, nil
}

// ReleaseAbandonedReservations reclaims quota slots held by cheques that
// stayed in EMIS past the reservation TTL. Each cheque releases its slot at
// most once: the quota_released flag is flipped with a guarded update before
// the release.
func (s *SiteService) ReleaseAbandonedReservations(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	cutoff := time.Now().UTC().Add(-ttl)

	stale, err := s.cheques.ListEmisBefore(ctx, cutoff, 500)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, cheque := range stale {
		claimed, err := s.cheques.MarkQuotaReleased(ctx, cheque.ID)
		if err != nil {
			log.Error().Err(err).Str("cheque_id", cheque.ID).Msg("Failed to flag abandoned reservation")
			continue
		}
		if !claimed {
			// Another sweeper got it first, or the cheque just moved on.
			continue
		}
		if err := s.quotas.Release(ctx, cheque.ToSiteID); err != nil {
			log.Error().Err(err).Str("cheque_id", cheque.ID).Str("site_id", cheque.ToSiteID).Msg("Failed to release abandoned quota slot")
			continue
		}
		released++
		log.Info().
			Str("cheque_id", cheque.ID).
			Str("site_id", cheque.ToSiteID).
			Time("created_at", cheque.CreatedAt).
			Msg("Released abandoned quota reservation")
	}
	return released, nil
}
