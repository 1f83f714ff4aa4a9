package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"example.com/rtpalette/services/palette/internal/matching"
	"example.com/rtpalette/services/palette/internal/models"
	"example.com/rtpalette/services/palette/internal/repositories"
)

func repoNotFound() error {
	return repositories.ErrNotFound
}

// Mock stores for testing

type MockChequeStore struct {
	mock.Mock
}

func (m *MockChequeStore) Create(ctx context.Context, cheque *models.Cheque) error {
	args := m.Called(ctx, cheque)
	return args.Error(0)
}

func (m *MockChequeStore) GetByID(ctx context.Context, id string) (*models.Cheque, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Cheque), args.Error(1)
}

func (m *MockChequeStore) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*models.Cheque, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Cheque), args.Error(1)
}

func (m *MockChequeStore) Transition(ctx context.Context, id string, expected, next models.Status, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, id, expected, next, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockChequeStore) TransitionTx(tx *gorm.DB, id string, expected, next models.Status, updates map[string]interface{}) (bool, error) {
	args := m.Called(tx, id, expected, next, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockChequeStore) AppendPhoto(ctx context.Context, id string, photo models.Photo) error {
	args := m.Called(ctx, id, photo)
	return args.Error(0)
}

func (m *MockChequeStore) ListEmisBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Cheque, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Cheque), args.Error(1)
}

func (m *MockChequeStore) MarkQuotaReleased(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) Append(ctx context.Context, companyID string, delta int, reason models.LedgerReason, chequeID *string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, companyID, delta, reason, chequeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerStore) AppendTx(tx *gorm.DB, companyID string, delta int, reason models.LedgerReason, chequeID *string) (*models.LedgerEntry, error) {
	args := m.Called(tx, companyID, delta, reason, chequeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerStore) Balance(ctx context.Context, companyID string) (int, error) {
	args := m.Called(ctx, companyID)
	return args.Int(0), args.Error(1)
}

func (m *MockLedgerStore) History(ctx context.Context, companyID string, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, companyID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

type MockSiteStore struct {
	mock.Mock
}

func (m *MockSiteStore) GetByID(ctx context.Context, id string) (*models.Site, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Site), args.Error(1)
}

func (m *MockSiteStore) List(ctx context.Context) ([]models.Site, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Site), args.Error(1)
}

func (m *MockSiteStore) ListWithQuotas(ctx context.Context) ([]models.Site, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Site), args.Error(1)
}

type MockQuotaStore struct {
	mock.Mock
}

func (m *MockQuotaStore) Get(ctx context.Context, siteID string) (*models.SiteQuota, error) {
	args := m.Called(ctx, siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SiteQuota), args.Error(1)
}

func (m *MockQuotaStore) Reserve(ctx context.Context, siteID string) (bool, error) {
	args := m.Called(ctx, siteID)
	return args.Bool(0), args.Error(1)
}

func (m *MockQuotaStore) Release(ctx context.Context, siteID string) error {
	args := m.Called(ctx, siteID)
	return args.Error(0)
}

func (m *MockQuotaStore) Update(ctx context.Context, siteID string, updates map[string]interface{}) (*models.SiteQuota, error) {
	args := m.Called(ctx, siteID, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SiteQuota), args.Error(1)
}

func (m *MockQuotaStore) ResetAll(ctx context.Context, today string) (int64, error) {
	args := m.Called(ctx, today)
	return args.Get(0).(int64), args.Error(1)
}

type MockDisputeStore struct {
	mock.Mock
}

func (m *MockDisputeStore) Create(ctx context.Context, dispute *models.Dispute) error {
	args := m.Called(ctx, dispute)
	return args.Error(0)
}

func (m *MockDisputeStore) CreateTx(tx *gorm.DB, dispute *models.Dispute) error {
	args := m.Called(tx, dispute)
	return args.Error(0)
}

func (m *MockDisputeStore) GetByID(ctx context.Context, id string) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *MockDisputeStore) List(ctx context.Context, chequeID string) ([]models.Dispute, error) {
	args := m.Called(ctx, chequeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *MockDisputeStore) HasOpen(ctx context.Context, chequeID string) (bool, error) {
	args := m.Called(ctx, chequeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDisputeStore) HasOpenTx(tx *gorm.DB, chequeID string) (bool, error) {
	args := m.Called(tx, chequeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDisputeStore) Transition(ctx context.Context, id string, expected, next models.DisputeStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, id, expected, next, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockDisputeStore) TransitionTx(tx *gorm.DB, id string, expected, next models.DisputeStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(tx, id, expected, next, updates)
	return args.Bool(0), args.Error(1)
}

type MockMatcher struct {
	mock.Mock
}

func (m *MockMatcher) Match(ctx context.Context, req matching.MatchRequest) (*matching.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*matching.Result), args.Error(1)
}

func (m *MockMatcher) MatchAndReserve(ctx context.Context, req matching.MatchRequest) (*matching.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*matching.Result), args.Error(1)
}

// passthroughTx runs the transaction body directly, without a database.
func passthroughTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
