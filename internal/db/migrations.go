package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS camera_events (
		id              BIGSERIAL PRIMARY KEY,
		camera_id       TEXT NOT NULL,
		event_type      TEXT,
		plate           TEXT,
		plate_valid     BOOLEAN NOT NULL DEFAULT false,
		picture_url     TEXT,
		raw_event       TEXT,
		event_time      TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_camera_events_event_time ON camera_events(event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_camera_events_plate ON camera_events(plate);`,
	`CREATE TABLE IF NOT EXISTS camera_events_log (
		id              BIGSERIAL PRIMARY KEY,
		event_hash      TEXT NOT NULL,
		camera_id       TEXT NOT NULL,
		plate           TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_camera_events_log_hash ON camera_events_log(event_hash, created_at);`,
	`CREATE TABLE IF NOT EXISTS parking_sessions (
		id                   BIGSERIAL PRIMARY KEY,
		plate                TEXT NOT NULL,
		entry_time           TIMESTAMPTZ NOT NULL,
		exit_time            TIMESTAMPTZ,
		duration_minutes     INT,
		cost_amount          NUMERIC(10,2) NOT NULL DEFAULT 0,
		cost_description     TEXT,
		status               TEXT NOT NULL,
		entry_camera         TEXT,
		exit_camera          TEXT,
		entry_event_id       BIGINT REFERENCES camera_events(id) ON DELETE SET NULL,
		exit_event_id        BIGINT REFERENCES camera_events(id) ON DELETE SET NULL,
		entry_barrier_opened BOOLEAN NOT NULL DEFAULT false,
		exit_barrier_opened  BOOLEAN NOT NULL DEFAULT false,
		payment_received     BOOLEAN NOT NULL DEFAULT false,
		whitelisted          BOOLEAN NOT NULL DEFAULT false,
		notes                TEXT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_sessions_active_plate ON parking_sessions(plate) WHERE status = 'active';`,
	`CREATE INDEX IF NOT EXISTS idx_parking_sessions_entry_time ON parking_sessions(entry_time);`,
	`CREATE INDEX IF NOT EXISTS idx_parking_sessions_status ON parking_sessions(status);`,
	`CREATE TABLE IF NOT EXISTS parking_payments (
		id              BIGSERIAL PRIMARY KEY,
		session_id      BIGINT NOT NULL REFERENCES parking_sessions(id),
		plate           TEXT NOT NULL,
		amount          NUMERIC(10,2) NOT NULL,
		operation_id    TEXT NOT NULL,
		qr_image        TEXT,
		status          TEXT NOT NULL,
		provider_status TEXT,
		source          TEXT,
		last_payload    JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		paid_at         TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_payments_operation_id ON parking_payments(operation_id);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_payments_pending_session ON parking_payments(session_id) WHERE status = 'pending';`,
	`CREATE TABLE IF NOT EXISTS payment_identifiers (
		payment_id  BIGINT NOT NULL REFERENCES parking_payments(id) ON DELETE CASCADE,
		kind        TEXT NOT NULL,
		value       TEXT NOT NULL,
		PRIMARY KEY (payment_id, kind)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_identifiers_kind_value ON payment_identifiers(kind, value);`,
	`CREATE INDEX IF NOT EXISTS idx_payment_identifiers_value ON payment_identifiers(value);`,
	`CREATE TABLE IF NOT EXISTS whitelist (
		id          BIGSERIAL PRIMARY KEY,
		plate       TEXT NOT NULL,
		valid_from  TIMESTAMPTZ NOT NULL DEFAULT now(),
		valid_until TIMESTAMPTZ,
		comment     TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_whitelist_plate ON whitelist(plate);`,
	`CREATE TABLE IF NOT EXISTS parking_tariffs (
		id           BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL,
		hourly_rate  NUMERIC(10,2) NOT NULL,
		night_rate   NUMERIC(10,2) NOT NULL,
		free_minutes INT NOT NULL DEFAULT 0,
		max_hours    INT NOT NULL DEFAULT 24,
		is_active    BOOLEAN NOT NULL DEFAULT false,
		valid_from   TIMESTAMPTZ,
		valid_until  TIMESTAMPTZ,
		description  TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_parking_tariffs_active ON parking_tariffs(is_active) WHERE is_active;`,
	`CREATE TABLE IF NOT EXISTS settings (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
