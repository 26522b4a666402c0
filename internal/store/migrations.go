package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "content: authoritative copy of every item",
		SQL: `
CREATE TABLE content (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    body         BLOB NOT NULL,
    context      TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    last_access  INTEGER NOT NULL
);

CREATE INDEX idx_content_user        ON content(user_id, last_access DESC);
CREATE INDEX idx_content_last_access ON content(last_access);
`,
	},
	{
		Version:     2,
		Description: "access_events: rolling per-user access log",
		SQL: `
CREATE TABLE access_events (
    id          INTEGER PRIMARY KEY,
    user_id     TEXT NOT NULL,
    content_id  TEXT NOT NULL,
    ts          INTEGER NOT NULL,
    context     TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX idx_events_user_ts ON access_events(user_id, ts);
CREATE INDEX idx_events_ts      ON access_events(ts);
`,
	},
	{
		Version:     3,
		Description: "patterns: one row per (user, period), replaced on each detector run",
		SQL: `
CREATE TABLE patterns (
    user_id       TEXT NOT NULL,
    period_hours  INTEGER NOT NULL CHECK (period_hours > 0),
    type          TEXT NOT NULL CHECK (type IN ('daily', 'weekly', 'monthly', 'custom')),
    confidence    REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    peak_times    TEXT NOT NULL DEFAULT '[]',
    content_ids   TEXT NOT NULL DEFAULT '[]',
    formed_at     INTEGER NOT NULL,
    stable_at     INTEGER NOT NULL,
    PRIMARY KEY (user_id, period_hours)
);
`,
	},
	{
		Version:     4,
		Description: "tier_state: placement of each content item",
		SQL: `
CREATE TABLE tier_state (
    content_id          TEXT PRIMARY KEY,
    tier                TEXT NOT NULL CHECK (tier IN ('fast', 'durable', 'archival')),
    last_transition_at  INTEGER NOT NULL,
    access_frequency    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_tier_state_tier ON tier_state(tier);
`,
	},
	{
		Version:     5,
		Description: "device_contexts: current context per user device",
		SQL: `
CREATE TABLE device_contexts (
    user_id     TEXT NOT NULL,
    device_id   TEXT NOT NULL,
    context     TEXT NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (user_id, device_id)
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
