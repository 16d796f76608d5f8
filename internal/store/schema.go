package store

import (
	"database/sql"
	"fmt"
)

// Forward-only migrations. Index in this slice +1 is the schema version the
// step migrates to. Steps must tolerate stores created by any earlier version,
// which is why new columns arrive with defaults rather than NOT NULL
// constraints without one.
var migrations = []string{
	// v1: base schema.
	`
CREATE TABLE IF NOT EXISTS daily_snapshots (
    date       TEXT PRIMARY KEY,
    cost       REAL NOT NULL DEFAULT 0,
    messages   INTEGER NOT NULL DEFAULT 0,
    tokens     INTEGER NOT NULL DEFAULT 0,
    sessions   INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS model_usage (
    date               TEXT NOT NULL,
    model              TEXT NOT NULL,
    input_tokens       INTEGER NOT NULL DEFAULT 0,
    output_tokens      INTEGER NOT NULL DEFAULT 0,
    cache_read_tokens  INTEGER NOT NULL DEFAULT 0,
    cache_write_tokens INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (date, model)
);

CREATE TABLE IF NOT EXISTS file_fingerprints (
    path       TEXT PRIMARY KEY,
    mtime_ns   INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_usage (
    path               TEXT NOT NULL,
    session_id         TEXT NOT NULL,
    date               TEXT NOT NULL,
    model              TEXT NOT NULL,
    input_tokens       INTEGER NOT NULL DEFAULT 0,
    output_tokens      INTEGER NOT NULL DEFAULT 0,
    cache_read_tokens  INTEGER NOT NULL DEFAULT 0,
    cache_write_tokens INTEGER NOT NULL DEFAULT 0,
    messages           INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (path, date, model)
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_usage_date ON file_usage(date);
`,
	// v2: machine identity tag on daily snapshots. Rows written before the
	// tag existed default-fill to the empty string and are treated as local.
	`
ALTER TABLE daily_snapshots ADD COLUMN machine TEXT NOT NULL DEFAULT '';
`,
}

// migrate brings the store to the current schema version. It runs before any
// other access and refuses to touch a store written by a newer version.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("creating meta table: %w", err)
	}

	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("store schema version %d is newer than supported %d", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrating to schema v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`,
			fmt.Sprint(v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording schema v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("parsing schema version %q: %w", raw, err)
	}
	return v, nil
}
