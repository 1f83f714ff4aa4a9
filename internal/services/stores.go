package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/models"
)

// Store interfaces consumed by the services. The gorm repositories satisfy
// them; tests substitute mocks.

// ChequeStore persists pallet cheques.
type ChequeStore interface {
	Create(ctx context.Context, cheque *models.Cheque) error
	GetByID(ctx context.Context, id string) (*models.Cheque, error)
	GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*models.Cheque, error)
	Transition(ctx context.Context, id string, expected, next models.Status, updates map[string]interface{}) (bool, error)
	TransitionTx(tx *gorm.DB, id string, expected, next models.Status, updates map[string]interface{}) (bool, error)
	AppendPhoto(ctx context.Context, id string, photo models.Photo) error
	ListEmisBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Cheque, error)
	MarkQuotaReleased(ctx context.Context, id string) (bool, error)
}

// LedgerStore persists company pallet ledgers.
type LedgerStore interface {
	Append(ctx context.Context, companyID string, delta int, reason models.LedgerReason, chequeID *string) (*models.LedgerEntry, error)
	AppendTx(tx *gorm.DB, companyID string, delta int, reason models.LedgerReason, chequeID *string) (*models.LedgerEntry, error)
	Balance(ctx context.Context, companyID string) (int, error)
	History(ctx context.Context, companyID string, limit int) ([]models.LedgerEntry, error)
}

// SiteStore persists return sites.
type SiteStore interface {
	GetByID(ctx context.Context, id string) (*models.Site, error)
	List(ctx context.Context) ([]models.Site, error)
	ListWithQuotas(ctx context.Context) ([]models.Site, error)
}

// QuotaStore persists site quota counters.
type QuotaStore interface {
	Get(ctx context.Context, siteID string) (*models.SiteQuota, error)
	Reserve(ctx context.Context, siteID string) (bool, error)
	Release(ctx context.Context, siteID string) error
	Update(ctx context.Context, siteID string, updates map[string]interface{}) (*models.SiteQuota, error)
	ResetAll(ctx context.Context, today string) (int64, error)
}

// DisputeStore persists disputes.
type DisputeStore interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	CreateTx(tx *gorm.DB, dispute *models.Dispute) error
	GetByID(ctx context.Context, id string) (*models.Dispute, error)
	List(ctx context.Context, chequeID string) ([]models.Dispute, error)
	HasOpen(ctx context.Context, chequeID string) (bool, error)
	HasOpenTx(tx *gorm.DB, chequeID string) (bool, error)
	Transition(ctx context.Context, id string, expected, next models.DisputeStatus, updates map[string]interface{}) (bool, error)
	TransitionTx(tx *gorm.DB, id string, expected, next models.DisputeStatus, updates map[string]interface{}) (bool, error)
}

// Matcher selects return sites for a delivery location.
type Matcher interface {
	Match(ctx context.Context, req matching.MatchRequest) (*matching.Result, error)
	MatchAndReserve(ctx context.Context, req matching.MatchRequest) (*matching.Result, error)
}

// EventPublisher pushes cheque lifecycle events downstream. Publishing is
// outside the consistency boundary: failures are logged, never propagated.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, body interface{}) error
}

// ChequeIndexer mirrors cheques into the search index for admin tooling.
type ChequeIndexer interface {
	IndexCheque(ctx context.Context, cheque *models.Cheque) error
}

// txRunner runs fn inside a database transaction. Stubbed in tests so
// service logic can be exercised against mocks.
type txRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

func gormTxRunner(db *gorm.DB) txRunner {
	return func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return db.WithContext(ctx).Transaction(fn)
	}
}
