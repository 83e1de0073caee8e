package db

import (
	"strings"
	"testing"
)

func TestMigrationsDeclareInvariants(t *testing.T) {
	all := strings.Join(migrationStatements, "\n")
	for _, want := range []string{
		"ux_parking_sessions_active_plate ON parking_sessions(plate) WHERE status = 'active'",
		"ux_parking_payments_pending_session ON parking_payments(session_id) WHERE status = 'pending'",
		"ux_parking_tariffs_active ON parking_tariffs(is_active) WHERE is_active",
		"CREATE TABLE IF NOT EXISTS payment_identifiers",
		"CREATE TABLE IF NOT EXISTS camera_events_log",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	for i, stmt := range migrationStatements {
		s := strings.TrimSpace(stmt)
		if !strings.Contains(s, "IF NOT EXISTS") {
			t.Errorf("statement %d is not idempotent: %.60s", i+1, s)
		}
	}
}
