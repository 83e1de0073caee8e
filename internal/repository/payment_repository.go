package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-service/internal/domain/parking"
)

type Payment struct {
	ID             int64           `gorm:"primaryKey"`
	SessionID      int64           `gorm:"not null"`
	Plate          string          `gorm:"not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(10,2)"`
	OperationID    string          `gorm:"not null"`
	QRImage        *string
	Status         string `gorm:"not null"`
	ProviderStatus *string
	Source         *string
	LastPayload    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
}

func (Payment) TableName() string { return "parking_payments" }

type PaymentIdentifier struct {
	PaymentID int64  `gorm:"primaryKey"`
	Kind      string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
}

func (PaymentIdentifier) TableName() string { return "payment_identifiers" }

func paymentFromRow(r Payment, ids []PaymentIdentifier) parking.Payment {
	p := parking.Payment{
		ID:             r.ID,
		SessionID:      r.SessionID,
		Plate:          r.Plate,
		Amount:         r.Amount,
		OperationID:    r.OperationID,
		QRImage:        deref(r.QRImage),
		Status:         parking.PaymentStatus(r.Status),
		ProviderStatus: deref(r.ProviderStatus),
		Source:         parking.Source(deref(r.Source)),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		PaidAt:         r.PaidAt,
	}
	for _, id := range ids {
		p.Identifiers = append(p.Identifiers, parking.PaymentIdentifier{
			Kind:  parking.IdentifierKind(id.Kind),
			Value: id.Value,
		})
	}
	return p
}

func (r *ParkingRepository) loadPayment(ctx context.Context, db *gorm.DB, row Payment) (*parking.Payment, error) {
	var ids []PaymentIdentifier
	if err := db.WithContext(ctx).Where("payment_id = ?", row.ID).Order("kind").Find(&ids).Error; err != nil {
		return nil, err
	}
	p := paymentFromRow(row, ids)
	return &p, nil
}

func (r *ParkingRepository) PendingPayment(ctx context.Context, sessionID int64) (*parking.Payment, error) {
	var row Payment
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, parking.PaymentPending).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return r.loadPayment(ctx, r.db, row)
}

// CreatePayment stores the payment and its identifiers in one transaction.
// A concurrent pending payment for the same session yields parking.ErrConflict.
func (r *ParkingRepository) CreatePayment(ctx context.Context, p *parking.Payment) error {
	now := time.Now()
	row := Payment{
		SessionID:      p.SessionID,
		Plate:          p.Plate,
		Amount:         p.Amount,
		OperationID:    p.OperationID,
		QRImage:        optional(p.QRImage),
		Status:         string(p.Status),
		ProviderStatus: optional(p.ProviderStatus),
		Source:         optional(string(p.Source)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, id := range p.Identifiers {
			ident := PaymentIdentifier{PaymentID: row.ID, Kind: string(id.Kind), Value: id.Value}
			if err := tx.Create(&ident).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translate(err)
	}
	p.ID = row.ID
	p.CreatedAt = row.CreatedAt
	p.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *ParkingRepository) FindPayment(ctx context.Context, identifiers ...string) (*parking.Payment, error) {
	values := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id != "" {
			values = append(values, id)
		}
	}
	if len(values) == 0 {
		return nil, parking.ErrNotFound
	}

	var row Payment
	err := r.db.WithContext(ctx).
		Where("operation_id IN ?", values).
		Or("id IN (?)", r.db.Model(&PaymentIdentifier{}).Select("payment_id").Where("value IN ?", values)).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return r.loadPayment(ctx, r.db, row)
}

// ApplyPaymentTransition locks the payment row, moves it and, on paid, marks the
// session paid and claims the exit barrier with a conditional update so only one
// caller ever sees ClaimedExitBarrier.
func (r *ParkingRepository) ApplyPaymentTransition(ctx context.Context, paymentID int64, t parking.PaymentTransition) (*parking.TransitionResult, error) {
	res := &parking.TransitionResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, paymentID).Error; err != nil {
			return err
		}

		if !parking.PaymentStatus(row.Status).Final() {
			updates := map[string]interface{}{"updated_at": t.At}
			if t.ProviderStatus != "" {
				updates["provider_status"] = t.ProviderStatus
			}
			if len(t.Raw) > 0 {
				updates["last_payload"] = datatypes.JSONMap(t.Raw)
			}
			if t.Status != parking.PaymentPending {
				updates["status"] = string(t.Status)
				updates["source"] = string(t.Source)
				if t.Status == parking.PaymentPaid {
					updates["paid_at"] = t.At
				}
				res.Changed = true
			}
			if err := tx.Model(&row).Updates(updates).Error; err != nil {
				return err
			}

			if t.Status == parking.PaymentPaid {
				err := tx.Model(&Session{}).
					Where("id = ?", row.SessionID).
					Updates(map[string]interface{}{"payment_received": true, "updated_at": t.At}).Error
				if err != nil {
					return err
				}
				claim := tx.Model(&Session{}).
					Where("id = ? AND exit_barrier_opened = ?", row.SessionID, false).
					Updates(map[string]interface{}{"exit_barrier_opened": true})
				if claim.Error != nil {
					return claim.Error
				}
				res.ClaimedExitBarrier = claim.RowsAffected == 1
			}
			if err := tx.First(&row, paymentID).Error; err != nil {
				return err
			}
		}

		p, err := r.loadPayment(ctx, tx, row)
		if err != nil {
			return err
		}
		res.Payment = *p

		var sess Session
		err = tx.First(&sess, row.SessionID).Error
		switch {
		case err == nil:
			s := sessionFromRow(sess)
			res.Session = &s
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}

func (r *ParkingRepository) StalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]parking.Payment, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", parking.PaymentPending, createdBefore).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Payment
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var idents []PaymentIdentifier
	if err := r.db.WithContext(ctx).Where("payment_id IN ?", ids).Order("kind").Find(&idents).Error; err != nil {
		return nil, err
	}
	byPayment := make(map[int64][]PaymentIdentifier, len(rows))
	for _, id := range idents {
		byPayment[id.PaymentID] = append(byPayment[id.PaymentID], id)
	}

	out := make([]parking.Payment, 0, len(rows))
	for _, row := range rows {
		out = append(out, paymentFromRow(row, byPayment[row.ID]))
	}
	return out, nil
}
