package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"parking-service/internal/dedup"
	"parking-service/internal/domain/parking"
	"parking-service/internal/service"
	"parking-service/internal/tariff"
)

var (
	_ service.SessionStore   = (*ParkingRepository)(nil)
	_ service.PaymentStore   = (*ParkingRepository)(nil)
	_ service.WhitelistStore = (*ParkingRepository)(nil)
	_ service.TariffStore    = (*ParkingRepository)(nil)
	_ service.SettingsStore  = (*ParkingRepository)(nil)
	_ service.EventStore     = (*ParkingRepository)(nil)
	_ dedup.Log              = (*ParkingRepository)(nil)
	_ tariff.Store           = (*ParkingRepository)(nil)
)

func TestTranslate(t *testing.T) {
	other := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"not found", gorm.ErrRecordNotFound, parking.ErrNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", gorm.ErrRecordNotFound), parking.ErrNotFound},
		{"duplicate", gorm.ErrDuplicatedKey, parking.ErrConflict},
		{"other", other, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := translate(tt.in); !errors.Is(got, tt.want) && got != tt.want {
				t.Fatalf("translate(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSessionRowRoundTrip(t *testing.T) {
	entry := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	eventID := int64(7)
	s := parking.Session{
		Plate:        "01KG123ABC",
		EntryTime:    entry,
		CostAmount:   decimal.RequireFromString("150.00"),
		Status:       parking.SessionActive,
		EntryCamera:  "192.0.0.12",
		EntryEventID: &eventID,
	}

	row := sessionToRow(&s)
	if row.ExitCamera != nil || row.Notes != nil || row.CostDescription != nil {
		t.Fatalf("empty strings must be stored as NULL: %+v", row)
	}
	if row.EntryCamera == nil || *row.EntryCamera != "192.0.0.12" {
		t.Fatalf("entry camera = %v", row.EntryCamera)
	}

	back := sessionFromRow(row)
	if back.Plate != s.Plate || !back.EntryTime.Equal(entry) || back.Status != parking.SessionActive {
		t.Fatalf("round trip mismatch: %+v", back)
	}
	if !back.CostAmount.Equal(s.CostAmount) || back.EntryEventID == nil || *back.EntryEventID != 7 {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func TestPaymentFromRowCarriesIdentifiers(t *testing.T) {
	row := Payment{
		ID:          3,
		SessionID:   1,
		Plate:       "01KG123ABC",
		Amount:      decimal.RequireFromString("50"),
		OperationID: "local-1",
		Status:      string(parking.PaymentPending),
	}
	p := paymentFromRow(row, []PaymentIdentifier{
		{PaymentID: 3, Kind: string(parking.IdentifierBank), Value: "bank-9"},
		{PaymentID: 3, Kind: string(parking.IdentifierLocal), Value: "local-1"},
	})

	if p.Identifier(parking.IdentifierBank) != "bank-9" {
		t.Fatalf("bank identifier = %q", p.Identifier(parking.IdentifierBank))
	}
	if p.Identifier(parking.IdentifierTransaction) != "local-1" {
		t.Fatalf("missing identifier should fall back to operation id")
	}
	if p.Source != "" || p.QRImage != "" {
		t.Fatalf("NULL columns should map to zero values: %+v", p)
	}
}
