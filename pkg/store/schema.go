package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

const schemaV1 = `
-- Mirror of the ledger's allocation history
CREATE TABLE IF NOT EXISTS allocations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent TEXT NOT NULL,
    resource TEXT NOT NULL,
    amount REAL NOT NULL,
    description TEXT,
    entry_type TEXT NOT NULL,
    at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_allocations_agent ON allocations(agent);

-- One row per completed scenario event
CREATE TABLE IF NOT EXISTS outcomes (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL UNIQUE,
    scenario TEXT NOT NULL,
    period INTEGER NOT NULL,
    sub_step INTEGER NOT NULL,
    decision TEXT,
    result TEXT,
    signal_source TEXT,
    conflicts INTEGER DEFAULT 0,
    alliances INTEGER DEFAULT 0,
    attempts INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    impact TEXT,  -- JSON
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_period ON outcomes(period);

-- Extracted signals, one row each
CREATE TABLE IF NOT EXISTS signals (
    outcome_id TEXT NOT NULL REFERENCES outcomes(id) ON DELETE CASCADE,
    category TEXT NOT NULL,  -- 'conflict', 'alliance', 'trust', 'behavior'
    kind TEXT,
    source TEXT,
    target TEXT,
    involved TEXT,           -- JSON array
    direction TEXT,
    confidence REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_category ON signals(category);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// InitSchema creates the tables if needed and records the schema version.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
