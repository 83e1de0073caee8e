package parking

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Final() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// Source names the convergence trigger that moved a payment.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceManual  Source = "manual"
)

// IdentifierKind distinguishes the ids a provider may echo back for one payment.
type IdentifierKind string

const (
	IdentifierLocal       IdentifierKind = "local"
	IdentifierBank        IdentifierKind = "bank"
	IdentifierTransaction IdentifierKind = "transaction"
)

type PaymentIdentifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

type Payment struct {
	ID             int64               `json:"id"`
	SessionID      int64               `json:"session_id"`
	Plate          string              `json:"plate"`
	Amount         decimal.Decimal     `json:"amount"`
	OperationID    string              `json:"operation_id"`
	Identifiers    []PaymentIdentifier `json:"identifiers"`
	QRImage        string              `json:"qr_image,omitempty"`
	Status         PaymentStatus       `json:"status"`
	ProviderStatus string              `json:"provider_status,omitempty"`
	Source         Source              `json:"source,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
}

// Identifier returns the value recorded for kind, or the local operation id.
func (p Payment) Identifier(kind IdentifierKind) string {
	for _, id := range p.Identifiers {
		if id.Kind == kind {
			return id.Value
		}
	}
	return p.OperationID
}

// PaymentTransition is one convergence signal applied to a payment.
type PaymentTransition struct {
	Status         PaymentStatus
	Source         Source
	ProviderStatus string
	Raw            map[string]interface{}
	At             time.Time
}

// TransitionResult describes what ApplyPaymentTransition changed.
// ClaimedExitBarrier is true for exactly one caller per session: the one that
// flipped exit_barrier_opened while moving the payment to paid.
type TransitionResult struct {
	Payment            Payment
	Session            *Session
	Changed            bool
	ClaimedExitBarrier bool
}
