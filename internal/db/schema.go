package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'manager', 'user')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
    id         INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    kind       TEXT NOT NULL CHECK (kind IN ('facility', 'store', 'transit')),
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id              INTEGER PRIMARY KEY,
    sku             TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL,
    category        TEXT NOT NULL DEFAULT '',
    unit_cost       TEXT NOT NULL DEFAULT '0',
    unit_of_measure TEXT NOT NULL DEFAULT 'unit',
    condition       TEXT NOT NULL DEFAULT 'new' CHECK (condition IN ('new', 'refurbished', 'used')),
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
    item_id     INTEGER NOT NULL REFERENCES items(id),
    location_id INTEGER NOT NULL REFERENCES locations(id),
    quantity    INTEGER NOT NULL CHECK (quantity >= 0),
    reserved    INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0 AND reserved <= quantity),
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (item_id, location_id)
);

CREATE TABLE IF NOT EXISTS ledger (
    id                      INTEGER PRIMARY KEY,
    reference               TEXT NOT NULL UNIQUE,
    type                    TEXT NOT NULL CHECK (type IN ('stock_in', 'stock_out', 'transfer', 'adjustment')),
    item_id                 INTEGER NOT NULL REFERENCES items(id),
    source_location_id      INTEGER REFERENCES locations(id),
    destination_location_id INTEGER REFERENCES locations(id),
    quantity                INTEGER NOT NULL CHECK (quantity > 0),
    actor                   TEXT NOT NULL,
    batch_number            TEXT,
    expires_at              DATETIME,
    note                    TEXT,
    created_at              DATETIME NOT NULL,
    CHECK (source_location_id IS NOT NULL OR destination_location_id IS NOT NULL),
    CHECK (source_location_id IS NULL OR destination_location_id IS NULL
           OR source_location_id <> destination_location_id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_item ON ledger(item_id, id);

CREATE TABLE IF NOT EXISTS stock_requests (
    id                     INTEGER PRIMARY KEY,
    reference              TEXT NOT NULL UNIQUE,
    requesting_location_id INTEGER NOT NULL REFERENCES locations(id),
    supplying_location_id  INTEGER NOT NULL REFERENCES locations(id),
    phase                  TEXT NOT NULL DEFAULT 'draft' CHECK (phase IN ('draft', 'submitted', 'cancelled')),
    created_by             TEXT NOT NULL,
    created_at             DATETIME NOT NULL,
    submitted_at           DATETIME,
    cancelled_at           DATETIME,
    updated_at             DATETIME NOT NULL,
    CHECK (requesting_location_id <> supplying_location_id)
);

CREATE TABLE IF NOT EXISTS request_lines (
    id                 INTEGER PRIMARY KEY,
    request_id         INTEGER NOT NULL REFERENCES stock_requests(id),
    item_id            INTEGER NOT NULL REFERENCES items(id),
    quantity_requested INTEGER NOT NULL CHECK (quantity_requested > 0),
    quantity_approved  INTEGER NOT NULL DEFAULT 0 CHECK (quantity_approved >= 0),
    quantity_fulfilled INTEGER NOT NULL DEFAULT 0
        CHECK (quantity_fulfilled >= 0 AND quantity_fulfilled <= quantity_approved),
    urgency            TEXT NOT NULL DEFAULT 'routine' CHECK (urgency IN ('routine', 'urgent', 'critical')),
    updated_at         DATETIME NOT NULL,
    UNIQUE (request_id, item_id)
);

CREATE TABLE IF NOT EXISTS serial_assets (
    id                  INTEGER PRIMARY KEY,
    item_id             INTEGER NOT NULL REFERENCES items(id),
    serial_code         TEXT NOT NULL UNIQUE,
    location_id         INTEGER NOT NULL REFERENCES locations(id),
    custodian           TEXT,
    status              TEXT NOT NULL CHECK (status IN ('available', 'assigned', 'in_transit', 'damaged', 'retired')),
    condition           TEXT NOT NULL DEFAULT 'new',
    warranty_expires_at DATETIME,
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tracking_events (
    id               INTEGER PRIMARY KEY,
    asset_id         INTEGER NOT NULL REFERENCES serial_assets(id),
    seq              INTEGER NOT NULL,
    action           TEXT NOT NULL,
    from_location_id INTEGER REFERENCES locations(id),
    to_location_id   INTEGER REFERENCES locations(id),
    in_transit       INTEGER NOT NULL DEFAULT 0,
    custodian        TEXT,
    actor            TEXT NOT NULL,
    note             TEXT,
    created_at       DATETIME NOT NULL,
    UNIQUE (asset_id, seq)
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
