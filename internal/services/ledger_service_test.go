package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/rtpalette/services/palette/internal/models"
)

func TestBalanceDefaultsToZero(t *testing.T) {
	mockLedger := new(MockLedgerStore)
	mockLedger.On("Balance", mock.Anything, "company-new").Return(0, nil)

	service := &LedgerService{ledger: mockLedger}

	snapshot, err := service.Balance(context.Background(), "company-new")
	require.NoError(t, err)
	require.Equal(t, 0, snapshot.Balance)
	require.Equal(t, "company-new", snapshot.CompanyID)
}

func TestManualAdjustment(t *testing.T) {
	mockLedger := new(MockLedgerStore)
	mockLedger.On("Append", mock.Anything, "company-a", -4, models.ReasonManualAdjustment, mock.Anything).
		Return(&models.LedgerEntry{CompanyID: "company-a", Delta: -4, NewBalance: 16}, nil)

	service := &LedgerService{ledger: mockLedger}

	entry, err := service.Adjust(context.Background(), "company-a", -4, nil)
	require.NoError(t, err)
	require.Equal(t, 16, entry.NewBalance)
	mockLedger.AssertExpectations(t)
}

func TestManualAdjustmentValidation(t *testing.T) {
	service := &LedgerService{}

	_, err := service.Adjust(context.Background(), "", 5, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = service.Adjust(context.Background(), "company-a", 0, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestHistoryDefaultLimit(t *testing.T) {
	mockLedger := new(MockLedgerStore)
	mockLedger.On("History", mock.Anything, "company-a", defaultHistoryLimit).
		Return([]models.LedgerEntry{}, nil)

	service := &LedgerService{ledger: mockLedger}

	_, err := service.History(context.Background(), "company-a", 0)
	require.NoError(t, err)
	mockLedger.AssertExpectations(t)
}
