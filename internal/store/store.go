// Package store persists daily snapshots, per-model usage, and file
// fingerprints in a single SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register sqlite driver
)

// DailySnapshot is the aggregated total for one local calendar date.
// Machine is the identity of the installation that produced the row; rows
// written before the tag existed carry the empty string and count as local.
type DailySnapshot struct {
	Date     string  `json:"date"`
	Cost     float64 `json:"cost"`
	Messages int64   `json:"messages"`
	Tokens   int64   `json:"tokens"`
	Sessions int64   `json:"sessions"`
	Machine  string  `json:"machine,omitempty"`
}

// ModelUsage is the token breakdown for one (date, model) pair.
type ModelUsage struct {
	Date             string `json:"date"`
	Model            string `json:"model"`
	InputTokens      int64  `json:"input_tokens"`
	OutputTokens     int64  `json:"output_tokens"`
	CacheReadTokens  int64  `json:"cache_read_tokens"`
	CacheWriteTokens int64  `json:"cache_write_tokens"`
}

// FileUsage is one scanned file's contribution to a (date, model) bucket.
// It is what lets an incremental scan rebuild complete daily totals without
// re-reading unchanged files, and it outlives the file itself so totals
// survive log rotation.
type FileUsage struct {
	Path             string
	SessionID        string
	Date             string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Messages         int64
}

// Fingerprint is the change-detection proxy for one file.
type Fingerprint struct {
	MtimeNs   int64
	SizeBytes int64
}

// Totals is the aggregate over all daily snapshots.
type Totals struct {
	Cost     float64 `json:"cost"`
	Messages int64   `json:"messages"`
	Tokens   int64   `json:"tokens"`
	Sessions int64   `json:"sessions"`
	Days     int64   `json:"days"`
}

// Store is a single-writer SQLite-backed snapshot store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path and applies pending migrations
// before any other access.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MachineID returns this installation's stable identity, generating and
// persisting one on first use. It is never regenerated afterwards.
func (s *Store) MachineID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'machine_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("reading machine id: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('machine_id', ?)`, id); err != nil {
		return "", fmt.Errorf("persisting machine id: %w", err)
	}
	return id, nil
}

// Fingerprints returns the full path -> fingerprint map. Callers that cannot
// read fingerprints should treat every file as changed: a full rescan is
// always safe, silently skipping a changed file is not.
func (s *Store) Fingerprints() (map[string]Fingerprint, error) {
	rows, err := s.db.Query(`SELECT path, mtime_ns, size_bytes FROM file_fingerprints`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	fps := make(map[string]Fingerprint)
	for rows.Next() {
		var path string
		var fp Fingerprint
		if err := rows.Scan(&path, &fp.MtimeNs, &fp.SizeBytes); err != nil {
			return nil, err
		}
		fps[path] = fp
	}
	return fps, rows.Err()
}

// AllDailySnapshots returns every daily snapshot ordered by date ascending.
func (s *Store) AllDailySnapshots() ([]DailySnapshot, error) {
	rows, err := s.db.Query(`SELECT date, cost, messages, tokens, sessions, machine
		FROM daily_snapshots ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DailySnapshot
	for rows.Next() {
		var d DailySnapshot
		if err := rows.Scan(&d.Date, &d.Cost, &d.Messages, &d.Tokens, &d.Sessions, &d.Machine); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AllModelUsage returns every per-model usage row. Order is unspecified.
func (s *Store) AllModelUsage() ([]ModelUsage, error) {
	rows, err := s.db.Query(`SELECT date, model, input_tokens, output_tokens,
		cache_read_tokens, cache_write_tokens FROM model_usage`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Date, &m.Model, &m.InputTokens, &m.OutputTokens,
			&m.CacheReadTokens, &m.CacheWriteTokens); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TotalsAll aggregates every daily snapshot in one reduction query so memory
// stays bounded regardless of history length.
func (s *Store) TotalsAll() (Totals, error) {
	var t Totals
	err := s.db.QueryRow(`SELECT
		COALESCE(SUM(cost), 0), COALESCE(SUM(messages), 0),
		COALESCE(SUM(tokens), 0), COALESCE(SUM(sessions), 0), COUNT(*)
		FROM daily_snapshots`).Scan(&t.Cost, &t.Messages, &t.Tokens, &t.Sessions, &t.Days)
	if err != nil {
		return Totals{}, fmt.Errorf("aggregating totals: %w", err)
	}
	return t, nil
}

// TrimBefore deletes all daily snapshots, model usage, and file contributions
// strictly before date (YYYY-MM-DD). Returns the number of rows removed.
// Retention trimming is always user-initiated, never automatic.
func (s *Store) TrimBefore(date string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, table := range []string{"daily_snapshots", "model_usage", "file_usage"} {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE date < ?`, date)
		if err != nil {
			return 0, fmt.Errorf("trimming %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, tx.Commit()
}

// TruncateAll removes all snapshot, usage, and fingerprint data. The machine
// identity survives. Used only before a full recalculation from source logs.
func (s *Store) TruncateAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"daily_snapshots", "model_usage", "file_usage", "file_fingerprints"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("truncating %s: %w", table, err)
		}
	}
	return tx.Commit()
}
