package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

type CameraEvent struct {
	ID         int64  `gorm:"primaryKey"`
	CameraID   string `gorm:"not null"`
	EventType  *string
	Plate      *string
	PlateValid bool
	PictureURL *string
	RawEvent   *string
	EventTime  time.Time `gorm:"not null"`
	CreatedAt  time.Time
}

func (CameraEvent) TableName() string { return "camera_events" }

type EventLogEntry struct {
	ID        int64  `gorm:"primaryKey"`
	EventHash string `gorm:"not null"`
	CameraID  string `gorm:"not null"`
	Plate     string `gorm:"not null"`
	CreatedAt time.Time
}

func (EventLogEntry) TableName() string { return "camera_events_log" }

func (r *ParkingRepository) CreateCameraEvent(ctx context.Context, event *parking.CameraEvent) error {
	dbEvent := CameraEvent{
		CameraID:   event.CameraID,
		PlateValid: event.PlateValid,
		EventTime:  event.EventTime,
		CreatedAt:  time.Now(),
	}
	if event.EventType != "" {
		dbEvent.EventType = &event.EventType
	}
	if event.Plate != "" {
		dbEvent.Plate = &event.Plate
	}
	if event.PictureURL != "" {
		dbEvent.PictureURL = &event.PictureURL
	}
	if event.RawEvent != "" {
		dbEvent.RawEvent = &event.RawEvent
	}

	if err := r.db.WithContext(ctx).Create(&dbEvent).Error; err != nil {
		return err
	}
	event.ID = dbEvent.ID
	return nil
}

// InsertEventHash serializes writers of the same hash with a transaction-scoped
// advisory lock, so two replicas cannot both accept one replayed payload.
func (r *ParkingRepository) InsertEventHash(ctx context.Context, hash, cameraID, plate string, since, at time.Time) (bool, error) {
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", hash).Error; err != nil {
			return err
		}
		var seen int64
		err := tx.Model(&EventLogEntry{}).
			Where("event_hash = ? AND created_at >= ?", hash, since).
			Count(&seen).Error
		if err != nil {
			return err
		}
		if seen > 0 {
			return nil
		}
		entry := EventLogEntry{EventHash: hash, CameraID: cameraID, Plate: plate, CreatedAt: at}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// DeleteEventsBefore purges audit events and dedup log rows older than before
// and returns the number of audit events removed.
func (r *ParkingRepository) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("event_time < ?", before).Delete(&CameraEvent{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return tx.Where("created_at < ?", before).Delete(&EventLogEntry{}).Error
	})
	return deleted, err
}
