package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: the ledger and tracking history are append-only.
	`CREATE TRIGGER IF NOT EXISTS ledger_no_update BEFORE UPDATE ON ledger
	 BEGIN SELECT RAISE(ABORT, 'ledger records are immutable'); END`,
	`CREATE TRIGGER IF NOT EXISTS ledger_no_delete BEFORE DELETE ON ledger
	 BEGIN SELECT RAISE(ABORT, 'ledger records are immutable'); END`,
	`CREATE TRIGGER IF NOT EXISTS tracking_events_no_update BEFORE UPDATE ON tracking_events
	 BEGIN SELECT RAISE(ABORT, 'tracking events are immutable'); END`,
	`CREATE TRIGGER IF NOT EXISTS tracking_events_no_delete BEFORE DELETE ON tracking_events
	 BEGIN SELECT RAISE(ABORT, 'tracking events are immutable'); END`,

	// Migration 2: lookup indexes for audit screens.
	`CREATE INDEX IF NOT EXISTS idx_ledger_source ON ledger(source_location_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_destination ON ledger(destination_location_id)`,
	`CREATE INDEX IF NOT EXISTS idx_request_lines_request ON request_lines(request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tracking_events_asset ON tracking_events(asset_id, seq)`,
}

// Migrate ensures the schema and runs the idempotent migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
