package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-service/internal/domain/parking"
)

type WhitelistEntry struct {
	ID         int64     `gorm:"primaryKey"`
	Plate      string    `gorm:"not null;uniqueIndex"`
	ValidFrom  time.Time `gorm:"not null"`
	ValidUntil *time.Time
	Comment    *string
	CreatedAt  time.Time
}

func (WhitelistEntry) TableName() string { return "whitelist" }

type Tariff struct {
	ID          int64           `gorm:"primaryKey"`
	Name        string          `gorm:"not null"`
	HourlyRate  decimal.Decimal `gorm:"type:numeric(10,2)"`
	NightRate   decimal.Decimal `gorm:"type:numeric(10,2)"`
	FreeMinutes int
	MaxHours    int
	IsActive    bool
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Description *string
	CreatedAt   time.Time
}

func (Tariff) TableName() string { return "parking_tariffs" }

type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (Setting) TableName() string { return "settings" }

func whitelistFromRow(r WhitelistEntry) parking.WhitelistEntry {
	return parking.WhitelistEntry{
		ID:         r.ID,
		Plate:      r.Plate,
		ValidFrom:  r.ValidFrom,
		ValidUntil: r.ValidUntil,
		Comment:    deref(r.Comment),
		CreatedAt:  r.CreatedAt,
	}
}

func tariffFromRow(r Tariff) parking.Tariff {
	return parking.Tariff{
		ID:          r.ID,
		Name:        r.Name,
		HourlyRate:  r.HourlyRate,
		NightRate:   r.NightRate,
		FreeMinutes: r.FreeMinutes,
		MaxHours:    r.MaxHours,
		IsActive:    r.IsActive,
		ValidFrom:   r.ValidFrom,
		ValidUntil:  r.ValidUntil,
		Description: deref(r.Description),
		CreatedAt:   r.CreatedAt,
	}
}

func (r *ParkingRepository) ActiveWhitelistEntry(ctx context.Context, plate string, at time.Time) (*parking.WhitelistEntry, error) {
	var row WhitelistEntry
	err := r.db.WithContext(ctx).
		Where("plate = ? AND valid_from <= ? AND (valid_until IS NULL OR valid_until >= ?)", plate, at, at).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	e := whitelistFromRow(row)
	return &e, nil
}

func (r *ParkingRepository) ListWhitelist(ctx context.Context) ([]parking.WhitelistEntry, error) {
	var rows []WhitelistEntry
	if err := r.db.WithContext(ctx).Order("plate").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]parking.WhitelistEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, whitelistFromRow(row))
	}
	return out, nil
}

func (r *ParkingRepository) AddWhitelist(ctx context.Context, e *parking.WhitelistEntry) error {
	row := WhitelistEntry{
		Plate:      e.Plate,
		ValidFrom:  e.ValidFrom,
		ValidUntil: e.ValidUntil,
		Comment:    optional(e.Comment),
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err)
	}
	e.ID = row.ID
	e.CreatedAt = row.CreatedAt
	return nil
}

func (r *ParkingRepository) GetWhitelistEntry(ctx context.Context, id int64) (*parking.WhitelistEntry, error) {
	var row WhitelistEntry
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, translate(err)
	}
	e := whitelistFromRow(row)
	return &e, nil
}

func (r *ParkingRepository) UpdateWhitelist(ctx context.Context, e *parking.WhitelistEntry) error {
	res := r.db.WithContext(ctx).
		Model(&WhitelistEntry{}).
		Where("id = ?", e.ID).
		Updates(map[string]interface{}{
			"plate":       e.Plate,
			"valid_from":  e.ValidFrom,
			"valid_until": e.ValidUntil,
			"comment":     optional(e.Comment),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return parking.ErrNotFound
	}
	return nil
}

func (r *ParkingRepository) DeleteWhitelist(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&WhitelistEntry{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return parking.ErrNotFound
	}
	return nil
}

func (r *ParkingRepository) ActiveTariff(ctx context.Context) (*parking.Tariff, error) {
	var row Tariff
	if err := r.db.WithContext(ctx).Where("is_active").First(&row).Error; err != nil {
		return nil, translate(err)
	}
	t := tariffFromRow(row)
	return &t, nil
}

func (r *ParkingRepository) ListTariffs(ctx context.Context) ([]parking.Tariff, error) {
	var rows []Tariff
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]parking.Tariff, 0, len(rows))
	for _, row := range rows {
		out = append(out, tariffFromRow(row))
	}
	return out, nil
}

// CreateTariff always stores the tariff inactive; ActivateTariff switches it on.
func (r *ParkingRepository) CreateTariff(ctx context.Context, t *parking.Tariff) error {
	row := Tariff{
		Name:        t.Name,
		HourlyRate:  t.HourlyRate,
		NightRate:   t.NightRate,
		FreeMinutes: t.FreeMinutes,
		MaxHours:    t.MaxHours,
		ValidFrom:   t.ValidFrom,
		ValidUntil:  t.ValidUntil,
		Description: optional(t.Description),
		CreatedAt:   time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err)
	}
	t.ID = row.ID
	t.CreatedAt = row.CreatedAt
	return nil
}

func (r *ParkingRepository) UpdateTariff(ctx context.Context, t *parking.Tariff) error {
	res := r.db.WithContext(ctx).
		Model(&Tariff{}).
		Where("id = ?", t.ID).
		Updates(map[string]interface{}{
			"name":         t.Name,
			"hourly_rate":  t.HourlyRate,
			"night_rate":   t.NightRate,
			"free_minutes": t.FreeMinutes,
			"max_hours":    t.MaxHours,
			"valid_from":   t.ValidFrom,
			"valid_until":  t.ValidUntil,
			"description":  optional(t.Description),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return parking.ErrNotFound
	}
	var row Tariff
	if err := r.db.WithContext(ctx).First(&row, t.ID).Error; err != nil {
		return translate(err)
	}
	*t = tariffFromRow(row)
	return nil
}

func (r *ParkingRepository) DeleteTariff(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Tariff
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
			return err
		}
		if row.IsActive {
			return parking.ErrConflict
		}
		return tx.Delete(&row).Error
	})
	return translate(err)
}

func (r *ParkingRepository) ActivateTariff(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Tariff
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&Tariff{}).Where("is_active AND id <> ?", id).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&row).Update("is_active", true).Error
	})
	return translate(err)
}

func (r *ParkingRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var row Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		return "", translate(err)
	}
	return row.Value, nil
}

func (r *ParkingRepository) SetSetting(ctx context.Context, key, value string) error {
	row := Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}
