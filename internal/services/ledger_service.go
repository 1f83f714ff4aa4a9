package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/rtpalette/services/palette/internal/cache"
	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/repositories"
)

const defaultHistoryLimit = 100

// LedgerService exposes company pallet balances and ledger history.
type LedgerService struct {
	ledger LedgerStore
	cache  *cache.RedisCache
}

// NewLedgerService creates a new ledger service backed by gorm repositories.
func NewLedgerService(db *gorm.DB, redisCache *cache.RedisCache) *LedgerService {
	return &LedgerService{
		ledger: repositories.NewLedgerRepository(db),
		cache:  redisCache,
	}
}

// BalanceSnapshot is a company's current pallet position.
type BalanceSnapshot struct {
	CompanyID string `json:"companyId"`
	Balance   int    `json:"balance"`
}

// Balance returns the company's current balance. A company with no ledger
// entries has a balance of zero.
func (s *LedgerService) Balance(ctx context.Context, companyID string) (*BalanceSnapshot, error) {
	if companyID == "" {
		return nil, validationError("companyId is required")
	}

	if s.cache.Enabled() {
		var cached BalanceSnapshot
		if err := s.cache.Get(ctx, cache.GetLedgerCacheKey(companyID), &cached); err == nil {
			return &cached, nil
		}
	}

	balance, err := s.ledger.Balance(ctx, companyID)
	if err != nil {
		return nil, err
	}
	snapshot := &BalanceSnapshot{CompanyID: companyID, Balance: balance}

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cache.GetLedgerCacheKey(companyID), snapshot, 30*time.Second); err != nil {
			log.Warn().Err(err).Str("company_id", companyID).Msg("Failed to cache balance")
		}
	}
	return snapshot, nil
}

// History returns the company's ledger entries in insertion order, oldest
// first.
func (s *LedgerService) History(ctx context.Context, companyID string, limit int) ([]models.LedgerEntry, error) {
	if companyID == "" {
		return nil, validationError("companyId is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.ledger.History(ctx, companyID, limit)
}

// Adjust appends a manual correction entry to the company's ledger. Used by
// back-office tooling; the ledger stays append-only, a correction is a new
// entry, never an edit.
func (s *LedgerService) Adjust(ctx context.Context, companyID string, delta int, chequeID *string) (*models.LedgerEntry, error) {
	if companyID == "" {
		return nil, validationError("companyId is required")
	}
	if delta == 0 {
		return nil, validationError("delta must be non-zero")
	}

	entry, err := s.ledger.Append(ctx, companyID, delta, models.ReasonManualAdjustment, chequeID)
	if err != nil {
		return nil, err
	}

	if s.cache.Enabled() {
		if err := s.cache.Delete(ctx, cache.GetLedgerCacheKey(companyID)); err != nil {
			log.Warn().Err(err).Str("company_id", companyID).Msg("Failed to invalidate balance cache")
		}
	}

	log.Info().
		Str("company_id", companyID).
		Int("delta", delta).
		Int("new_balance", entry.NewBalance).
		Msg("Manual ledger adjustment recorded")
	return entry, nil
}
