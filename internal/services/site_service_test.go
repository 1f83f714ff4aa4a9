package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/rtpalette/services/palette/internal/models"
)

func TestReleaseAbandonedReservations(t *testing.T) {
	mockCheques := new(MockChequeStore)
	mockQuotas := new(MockQuotaStore)

	stale := []models.Cheque{
		{ID: "CHQ-1", ToSiteID: "site-1", Status: models.StatusEmis},
		{ID: "CHQ-2", ToSiteID: "site-2", Status: models.StatusEmis},
		{ID: "CHQ-3", ToSiteID: "site-3", Status: models.StatusEmis},
	}

	mockCheques.On("ListEmisBefore", mock.Anything, mock.AnythingOfType("time.Time"), 500).Return(stale, nil)
	mockCheques.On("MarkQuotaReleased", mock.Anything, "CHQ-1").Return(true, nil)
	// CHQ-2 was already claimed by a concurrent sweep.
	mockCheques.On("MarkQuotaReleased", mock.Anything, "CHQ-2").Return(false, nil)
	mockCheques.On("MarkQuotaReleased", mock.Anything, "CHQ-3").Return(true, nil)
	mockQuotas.On("Release", mock.Anything, "site-1").Return(nil)
	mockQuotas.On("Release", mock.Anything, "site-3").Return(nil)

	service := &SiteService{cheques: mockCheques, quotas: mockQuotas}

	released, err := service.ReleaseAbandonedReservations(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, released)

	// The claimed-elsewhere cheque must not release a second slot.
	mockQuotas.AssertNotCalled(t, "Release", mock.Anything, "site-2")
}

func TestResetDailyQuotas(t *testing.T) {
	mockQuotas := new(MockQuotaStore)
	today := time.Now().UTC().Format("2006-01-02")
	mockQuotas.On("ResetAll", mock.Anything, today).Return(int64(4), nil)

	service := &SiteService{quotas: mockQuotas}

	reset, err := service.ResetDailyQuotas(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), reset)
	mockQuotas.AssertExpectations(t)
}

func TestUpdateQuotaValidation(t *testing.T) {
	service := &SiteService{}

	negative := -1
	_, err := service.UpdateQuota(context.Background(), "site-1", QuotaUpdateRequest{DailyMax: &negative})
	require.ErrorIs(t, err, ErrValidation)

	badDays := models.IntList{0, 7}
	_, err = service.UpdateQuota(context.Background(), "site-1", QuotaUpdateRequest{AvailableDays: &badDays})
	require.ErrorIs(t, err, ErrValidation)

	badPriority := models.SitePriority("URGENT")
	_, err = service.UpdateQuota(context.Background(), "site-1", QuotaUpdateRequest{Priority: &badPriority})
	require.ErrorIs(t, err, ErrValidation)

	_, err = service.UpdateQuota(context.Background(), "site-1", QuotaUpdateRequest{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateQuotaUnknownSite(t *testing.T) {
	mockQuotas := new(MockQuotaStore)
	max := 40
	mockQuotas.On("Update", mock.Anything, "site-missing", mock.Anything).Return(nil, repoNotFound())

	service := &SiteService{quotas: mockQuotas}

	_, err := service.UpdateQuota(context.Background(), "site-missing", QuotaUpdateRequest{DailyMax: &max})
	require.ErrorIs(t, err, ErrSiteNotFound)
}
