package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/rtpalette/services/palette/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// CompanyRepository provides access to company data
type CompanyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// GetByID gets a company by ID
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*models.Company, error) {
	var company models.Company
	err := r.db.WithContext(ctx).First(&company, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get company by ID")
	}
	return &company, nil
}

// SiteRepository provides access to return site data
type SiteRepository struct {
	db *gorm.DB
}

// NewSiteRepository creates a new site repository
func NewSiteRepository(db *gorm.DB) *SiteRepository {
	return &SiteRepository{db: db}
}

// GetByID gets a site by ID
func (r *SiteRepository) GetByID(ctx context.Context, id string) (*models.Site, error) {
	var site models.Site
	err := r.db.WithContext(ctx).First(&site, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get site by ID")
	}
	return &site, nil
}

// List returns all sites
func (r *SiteRepository) List(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	err := r.db.WithContext(ctx).Order("id").Find(&sites).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sites")
	}
	return sites, nil
}

// ListWithQuotas returns all sites with their quota rows preloaded, the
// candidate set for matching.
func (r *SiteRepository) ListWithQuotas(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	err := r.db.WithContext(ctx).Preload("Quota").Order("id").Find(&sites).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sites with quotas")
	}
	return sites, nil
}

// Create inserts a site and its quota row
func (r *SiteRepository) Create(ctx context.Context, site *models.Site) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(site).Error, "failed to create site")
}

// QuotaRepository provides atomic access to site quota counters. All writes
// are guarded single-statement updates so the 0 <= consumed <= daily_max
// invariant cannot be violated by concurrent callers.
type QuotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *gorm.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Get gets the quota row for a site
func (r *QuotaRepository) Get(ctx context.Context, siteID string) (*models.SiteQuota, error) {
	var quota models.SiteQuota
	err := r.db.WithContext(ctx).First(&quota, "site_id = ?", siteID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get site quota")
	}
	return &quota, nil
}

// Reserve atomically consumes one slot on the site. It returns false when the
// site is already at capacity, without error, so callers can fall back to the
// next candidate.
func (r *QuotaRepository) Reserve(ctx context.Context, siteID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SiteQuota{}).
		Where("site_id = ? AND consumed < daily_max", siteID).
		Update("consumed", gorm.Expr("consumed + 1"))
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to reserve quota slot")
	}
	return result.RowsAffected > 0, nil
}

// Release returns one slot to the site, never decrementing below zero.
func (r *QuotaRepository) Release(ctx context.Context, siteID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.SiteQuota{}).
		Where("site_id = ? AND consumed > 0", siteID).
		Update("consumed", gorm.Expr("consumed - 1"))
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to release quota slot")
	}
	return nil
}

// Update applies operator changes to a site's quota settings
func (r *QuotaRepository) Update(ctx context.Context, siteID string, updates map[string]interface{}) (*models.SiteQuota, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SiteQuota{}).
		Where("site_id = ?", siteID).
		Updates(updates)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to update site quota")
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, siteID)
}

// ResetAll zeroes the consumed counter for every site whose last reset is not
// today. Stamping last_reset in the same statement makes the job idempotent.
func (r *QuotaRepository) ResetAll(ctx context.Context, today string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SiteQuota{}).
		Where("last_reset IS DISTINCT FROM ?", today).
		Updates(map[string]interface{}{
			"consumed":   0,
			"last_reset": today,
		})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reset site quotas")
	}
	return result.RowsAffected, nil
}

// ChequeRepository provides access to pallet cheques
type ChequeRepository struct {
	db *gorm.DB
}

// NewChequeRepository creates a new cheque repository
func NewChequeRepository(db *gorm.DB) *ChequeRepository {
	return &ChequeRepository{db: db}
}

// Create inserts a new cheque
func (r *ChequeRepository) Create(ctx context.Context, cheque *models.Cheque) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(cheque).Error, "failed to create cheque")
}

// GetByID gets a cheque by ID
func (r *ChequeRepository) GetByID(ctx context.Context, id string) (*models.Cheque, error) {
	var cheque models.Cheque
	err := r.db.WithContext(ctx).First(&cheque, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get cheque by ID")
	}
	return &cheque, nil
}

// GetByIdempotencyKey returns the cheque minted for a generate request with
// this key, or ErrNotFound.
func (r *ChequeRepository) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*models.Cheque, error) {
	var cheque models.Cheque
	err := r.db.WithContext(ctx).First(&cheque, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get cheque by idempotency key")
	}
	return &cheque, nil
}

// Transition compare-and-swaps the cheque status from expected to next while
// applying the transition's field updates in the same statement. It returns
// false when the cheque has moved past expected since the caller read it.
func (r *ChequeRepository) Transition(ctx context.Context, id string, expected, next models.Status, updates map[string]interface{}) (bool, error) {
	return r.TransitionTx(r.db.WithContext(ctx), id, expected, next, updates)
}

// TransitionTx is Transition running on an existing transaction.
func (r *ChequeRepository) TransitionTx(tx *gorm.DB, id string, expected, next models.Status, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = next

	result := tx.
		Model(&models.Cheque{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to transition cheque status")
	}
	return result.RowsAffected > 0, nil
}

// AppendPhoto adds one evidence photo. Photos are not part of the transition's
// consistency boundary, so this is a plain read-modify-write.
func (r *ChequeRepository) AppendPhoto(ctx context.Context, id string, photo models.Photo) error {
	cheque, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	photos := append(cheque.Photos, photo)
	result := r.db.WithContext(ctx).
		Model(&models.Cheque{}).
		Where("id = ?", id).
		Update("photos", photos)
	return errors.Wrap(result.Error, "failed to append cheque photo")
}

// ListEmisBefore returns EMIS cheques created before the cutoff whose site
// reservation has not been released yet, for the abandonment sweep.
func (r *ChequeRepository) ListEmisBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Cheque, error) {
	var cheques []models.Cheque
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND quota_released = ?", models.StatusEmis, cutoff, false).
		Order("created_at").
		Limit(limit).
		Find(&cheques).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale cheques")
	}
	return cheques, nil
}

// MarkQuotaReleased flags a cheque's reservation as returned. The guard makes
// the sweep release each slot at most once.
func (r *ChequeRepository) MarkQuotaReleased(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Cheque{}).
		Where("id = ? AND quota_released = ?", id, false).
		Update("quota_released", true)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to mark cheque quota released")
	}
	return result.RowsAffected > 0, nil
}

// LedgerRepository provides append-only access to company pallet ledgers.
// Appends are serialized per company by locking the company's latest entry;
// the unique (company_id, seq) index backstops the first-entry race.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append computes the running balance and inserts a new entry for the company.
func (r *LedgerRepository) Append(ctx context.Context, companyID string, delta int, reason models.LedgerReason, chequeID *string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := r.AppendTx(tx, companyID, delta, reason, chequeID)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendTx is Append running on an existing transaction.
func (r *LedgerRepository) AppendTx(tx *gorm.DB, companyID string, delta int, reason models.LedgerReason, chequeID *string) (*models.LedgerEntry, error) {
	var last models.LedgerEntry
	seq := int64(1)
	balance := 0

	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ?", companyID).
		Order("seq DESC").
		First(&last).Error
	switch {
	case err == nil:
		seq = last.Seq + 1
		balance = last.NewBalance
	case errors.Is(err, gorm.ErrRecordNotFound):
		// First entry for this company.
	default:
		return nil, errors.Wrap(err, "failed to lock latest ledger entry")
	}

	entry := &models.LedgerEntry{
		ID:         uuid.New(),
		CompanyID:  companyID,
		Seq:        seq,
		Delta:      delta,
		Reason:     reason,
		ChequeID:   chequeID,
		NewBalance: balance + delta,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, errors.Wrap(err, "failed to append ledger entry")
	}
	return entry, nil
}

// Balance returns the company's current balance, 0 when it has no history.
func (r *LedgerRepository) Balance(ctx context.Context, companyID string) (int, error) {
	var last models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("seq DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to get ledger balance")
	}
	return last.NewBalance, nil
}

// History returns the company's entries in insertion order, oldest first.
func (r *LedgerRepository) History(ctx context.Context, companyID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("seq")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get ledger history")
	}
	return entries, nil
}

// DisputeRepository provides access to disputes
type DisputeRepository struct {
	db *gorm.DB
}

// NewDisputeRepository creates a new dispute repository
func NewDisputeRepository(db *gorm.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts a new dispute
func (r *DisputeRepository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.CreateTx(r.db.WithContext(ctx), dispute)
}

// CreateTx is Create running on an existing transaction.
func (r *DisputeRepository) CreateTx(tx *gorm.DB, dispute *models.Dispute) error {
	return errors.Wrap(tx.Create(dispute).Error, "failed to create dispute")
}

// GetByID gets a dispute by ID
func (r *DisputeRepository) GetByID(ctx context.Context, id string) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).First(&dispute, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get dispute by ID")
	}
	return &dispute, nil
}

// List returns disputes, optionally filtered by cheque.
func (r *DisputeRepository) List(ctx context.Context, chequeID string) ([]models.Dispute, error) {
	var disputes []models.Dispute
	q := r.db.WithContext(ctx).Order("created_at")
	if chequeID != "" {
		q = q.Where("cheque_id = ?", chequeID)
	}
	if err := q.Find(&disputes).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list disputes")
	}
	return disputes, nil
}

// HasOpen reports whether the cheque already has a dispute that is not yet
// resolved or rejected.
func (r *DisputeRepository) HasOpen(ctx context.Context, chequeID string) (bool, error) {
	return r.HasOpenTx(r.db.WithContext(ctx), chequeID)
}

// HasOpenTx is HasOpen running on an existing transaction, so the check and
// the insert it guards share one consistency snapshot.
func (r *DisputeRepository) HasOpenTx(tx *gorm.DB, chequeID string) (bool, error) {
	var count int64
	err := tx.
		Model(&models.Dispute{}).
		Where("cheque_id = ? AND status IN ?", chequeID, []models.DisputeStatus{models.DisputeOpen, models.DisputeAcknowledged}).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to count open disputes")
	}
	return count > 0, nil
}

// Transition compare-and-swaps the dispute status, applying field updates in
// the same statement.
func (r *DisputeRepository) Transition(ctx context.Context, id string, expected, next models.DisputeStatus, updates map[string]interface{}) (bool, error) {
	return r.TransitionTx(r.db.WithContext(ctx), id, expected, next, updates)
}

// TransitionTx is Transition running on an existing transaction.
func (r *DisputeRepository) TransitionTx(tx *gorm.DB, id string, expected, next models.DisputeStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = next

	result := tx.
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to transition dispute status")
	}
	return result.RowsAffected > 0, nil
}
