package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeSessionEntry    = "session.entry"
	TypeSessionExit     = "session.exit"
	TypePaymentRequired = "payment.required"
	TypePaymentPaid     = "payment.paid"
	TypePaymentFailed   = "payment.failed"
)

// Event is a parking domain notification for downstream consumers.
type Event struct {
	Type        string           `json:"type"`
	OccurredAt  time.Time        `json:"occurred_at"`
	SessionID   int64            `json:"session_id,omitempty"`
	Plate       string           `json:"plate,omitempty"`
	PaymentID   int64            `json:"payment_id,omitempty"`
	OperationID string           `json:"operation_id,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Camera      string           `json:"camera,omitempty"`
	Status      string           `json:"status,omitempty"`
}

// Publisher delivers events best effort; callers log and continue on error.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
