package service

import (
	"context"
	"time"

	"parking-service/internal/domain/parking"
)

// Store methods return parking.ErrNotFound for missing rows and
// parking.ErrConflict when a uniqueness invariant would be violated.

type SessionStore interface {
	ActiveSession(ctx context.Context, plate string) (*parking.Session, error)
	GetSession(ctx context.Context, id int64) (*parking.Session, error)
	CreateSession(ctx context.Context, s *parking.Session) error
	// CloseSession applies c only while the session is still active and
	// reports whether it did.
	CloseSession(ctx context.Context, id int64, c parking.SessionClose) (bool, error)
	MarkBarrierOpened(ctx context.Context, id int64, dir parking.Direction) error
	ExpiredSessions(ctx context.Context, enteredBefore time.Time) ([]parking.Session, error)
	ListSessions(ctx context.Context, f parking.SessionFilter) ([]parking.Session, error)
}

type PaymentStore interface {
	PendingPayment(ctx context.Context, sessionID int64) (*parking.Payment, error)
	CreatePayment(ctx context.Context, p *parking.Payment) error
	// FindPayment resolves any of the identifiers a provider may echo back.
	FindPayment(ctx context.Context, identifiers ...string) (*parking.Payment, error)
	// ApplyPaymentTransition moves the payment and its session atomically.
	// Final payments are left untouched.
	ApplyPaymentTransition(ctx context.Context, paymentID int64, t parking.PaymentTransition) (*parking.TransitionResult, error)
	StalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]parking.Payment, error)
}

type WhitelistStore interface {
	ActiveWhitelistEntry(ctx context.Context, plate string, at time.Time) (*parking.WhitelistEntry, error)
	ListWhitelist(ctx context.Context) ([]parking.WhitelistEntry, error)
	GetWhitelistEntry(ctx context.Context, id int64) (*parking.WhitelistEntry, error)
	AddWhitelist(ctx context.Context, e *parking.WhitelistEntry) error
	UpdateWhitelist(ctx context.Context, e *parking.WhitelistEntry) error
	DeleteWhitelist(ctx context.Context, id int64) error
}

type TariffStore interface {
	ActiveTariff(ctx context.Context) (*parking.Tariff, error)
	ListTariffs(ctx context.Context) ([]parking.Tariff, error)
	CreateTariff(ctx context.Context, t *parking.Tariff) error
	// UpdateTariff rewrites the schedule fields and leaves is_active alone.
	UpdateTariff(ctx context.Context, t *parking.Tariff) error
	// DeleteTariff returns parking.ErrConflict for the active tariff.
	DeleteTariff(ctx context.Context, id int64) error
	ActivateTariff(ctx context.Context, id int64) error
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type EventStore interface {
	CreateCameraEvent(ctx context.Context, e *parking.CameraEvent) error
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// TariffSource yields the fee schedule in effect at a given time.
type TariffSource interface {
	Active(ctx context.Context, at time.Time) parking.Tariff
}
