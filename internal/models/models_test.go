package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChequeTransitions(t *testing.T) {
	require.True(t, StatusEmis.CanTransitionTo(StatusDepose))
	require.True(t, StatusEmis.CanTransitionTo(StatusLitige))
	require.True(t, StatusDepose.CanTransitionTo(StatusRecu))
	require.True(t, StatusDepose.CanTransitionTo(StatusLitige))
	require.True(t, StatusRecu.CanTransitionTo(StatusLitige))

	// No skipping and no going back.
	require.False(t, StatusEmis.CanTransitionTo(StatusRecu))
	require.False(t, StatusDepose.CanTransitionTo(StatusEmis))
	require.False(t, StatusRecu.CanTransitionTo(StatusDepose))
	require.False(t, StatusLitige.CanTransitionTo(StatusRecu))
	require.False(t, StatusLitige.CanTransitionTo(StatusEmis))
}

func TestDisputeTransitions(t *testing.T) {
	require.True(t, DisputeOpen.CanTransitionTo(DisputeAcknowledged))
	require.True(t, DisputeOpen.CanTransitionTo(DisputeResolved))
	require.True(t, DisputeAcknowledged.CanTransitionTo(DisputeRejected))
	require.True(t, DisputeResolved.CanTransitionTo(DisputeClosed))
	require.True(t, DisputeRejected.CanTransitionTo(DisputeClosed))

	require.False(t, DisputeClosed.CanTransitionTo(DisputeOpen))
	require.False(t, DisputeResolved.CanTransitionTo(DisputeRejected))

	require.True(t, DisputeOpen.Open())
	require.True(t, DisputeAcknowledged.Open())
	require.False(t, DisputeResolved.Open())
}

func TestChequeJSONShape(t *testing.T) {
	sig := "transporter-sig"
	cheque := Cheque{
		ID:                   "CHQ-1",
		Status:               StatusDepose,
		TransporterSignature: &sig,
		DepositLocation:      &GeoPoint{Lat: 48.8, Lng: 2.3},
	}

	data, err := json.Marshal(cheque)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Signatures and geolocations are nested for the mobile clients.
	signatures, ok := decoded["signatures"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "transporter-sig", signatures["transporter"])
	require.Nil(t, signatures["receiver"])

	geolocations, ok := decoded["geolocations"].(map[string]interface{})
	require.True(t, ok)
	require.NotNil(t, geolocations["deposit"])
	require.Nil(t, geolocations["receipt"])

	// Photos always serializes as an array.
	require.NotNil(t, decoded["photos"])

	// Internal columns never leak.
	_, present := decoded["idempotency_key"]
	require.False(t, present)
}

func TestIntListContains(t *testing.T) {
	days := IntList{1, 2, 3, 4, 5}
	require.True(t, days.Contains(3))
	require.False(t, days.Contains(0))
	require.False(t, IntList(nil).Contains(1))
}
