package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

type ParkingRepository struct {
	db *gorm.DB
}

func NewParkingRepository(db *gorm.DB) *ParkingRepository {
	return &ParkingRepository{db: db}
}

type Session struct {
	ID                 int64           `gorm:"primaryKey"`
	Plate              string          `gorm:"not null"`
	EntryTime          time.Time       `gorm:"not null"`
	ExitTime           *time.Time
	DurationMinutes    *int
	CostAmount         decimal.Decimal `gorm:"type:numeric(10,2)"`
	CostDescription    *string
	Status             string `gorm:"not null"`
	EntryCamera        *string
	ExitCamera         *string
	EntryEventID       *int64
	ExitEventID        *int64
	EntryBarrierOpened bool
	ExitBarrierOpened  bool
	PaymentReceived    bool
	Whitelisted        bool
	Notes              *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Session) TableName() string { return "parking_sessions" }

// translate maps driver errors onto the domain sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return parking.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return parking.ErrConflict
	default:
		return err
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sessionFromRow(r Session) parking.Session {
	return parking.Session{
		ID:                 r.ID,
		Plate:              r.Plate,
		EntryTime:          r.EntryTime,
		ExitTime:           r.ExitTime,
		DurationMinutes:    r.DurationMinutes,
		CostAmount:         r.CostAmount,
		CostDescription:    deref(r.CostDescription),
		Status:             parking.SessionStatus(r.Status),
		EntryCamera:        deref(r.EntryCamera),
		ExitCamera:         deref(r.ExitCamera),
		EntryEventID:       r.EntryEventID,
		ExitEventID:        r.ExitEventID,
		EntryBarrierOpened: r.EntryBarrierOpened,
		ExitBarrierOpened:  r.ExitBarrierOpened,
		PaymentReceived:    r.PaymentReceived,
		Whitelisted:        r.Whitelisted,
		Notes:              deref(r.Notes),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func sessionToRow(s *parking.Session) Session {
	return Session{
		ID:                 s.ID,
		Plate:              s.Plate,
		EntryTime:          s.EntryTime,
		ExitTime:           s.ExitTime,
		DurationMinutes:    s.DurationMinutes,
		CostAmount:         s.CostAmount,
		CostDescription:    optional(s.CostDescription),
		Status:             string(s.Status),
		EntryCamera:        optional(s.EntryCamera),
		ExitCamera:         optional(s.ExitCamera),
		EntryEventID:       s.EntryEventID,
		ExitEventID:        s.ExitEventID,
		EntryBarrierOpened: s.EntryBarrierOpened,
		ExitBarrierOpened:  s.ExitBarrierOpened,
		PaymentReceived:    s.PaymentReceived,
		Whitelisted:        s.Whitelisted,
		Notes:              optional(s.Notes),
	}
}

func (r *ParkingRepository) ActiveSession(ctx context.Context, plate string) (*parking.Session, error) {
	var row Session
	err := r.db.WithContext(ctx).
		Where("plate = ? AND status = ?", plate, parking.SessionActive).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	s := sessionFromRow(row)
	return &s, nil
}

func (r *ParkingRepository) GetSession(ctx context.Context, id int64) (*parking.Session, error) {
	var row Session
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, translate(err)
	}
	s := sessionFromRow(row)
	return &s, nil
}

// CreateSession relies on the partial unique index on active plates; a second
// active session for the same plate surfaces as parking.ErrConflict.
func (r *ParkingRepository) CreateSession(ctx context.Context, s *parking.Session) error {
	row := sessionToRow(s)
	now := time.Now()
	row.CreatedAt = now
	row.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err)
	}
	s.ID = row.ID
	s.CreatedAt = row.CreatedAt
	s.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *ParkingRepository) CloseSession(ctx context.Context, id int64, c parking.SessionClose) (bool, error) {
	updates := map[string]interface{}{
		"status":              string(c.Status),
		"exit_time":           c.ExitTime,
		"duration_minutes":    c.DurationMinutes,
		"cost_amount":         c.CostAmount,
		"cost_description":    optional(c.CostDescription),
		"exit_camera":         optional(c.ExitCamera),
		"exit_event_id":       c.ExitEventID,
		"exit_barrier_opened": c.ExitBarrierOpened,
		"payment_received":    c.PaymentReceived,
		"updated_at":          time.Now(),
	}
	if c.Notes != "" {
		updates["notes"] = c.Notes
	}
	res := r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND status = ?", id, parking.SessionActive).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ParkingRepository) MarkBarrierOpened(ctx context.Context, id int64, dir parking.Direction) error {
	column := "exit_barrier_opened"
	if dir == parking.DirectionEntry {
		column = "entry_barrier_opened"
	}
	res := r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{column: true, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return parking.ErrNotFound
	}
	return nil
}

func (r *ParkingRepository) ExpiredSessions(ctx context.Context, enteredBefore time.Time) ([]parking.Session, error) {
	var rows []Session
	err := r.db.WithContext(ctx).
		Where("status = ? AND entry_time < ?", parking.SessionActive, enteredBefore).
		Order("entry_time").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return sessionsFromRows(rows), nil
}

func (r *ParkingRepository) ListSessions(ctx context.Context, f parking.SessionFilter) ([]parking.Session, error) {
	q := r.db.WithContext(ctx).Model(&Session{})
	if f.Plate != "" {
		q = q.Where("plate = ?", f.Plate)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("entry_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("entry_time <= ?", *f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []Session
	if err := q.Order("entry_time DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return sessionsFromRows(rows), nil
}

func sessionsFromRows(rows []Session) []parking.Session {
	out := make([]parking.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionFromRow(row))
	}
	return out
}
