package store

import (
	"database/sql"
	"fmt"
)

// Batch groups the mutations of one logical unit of work (one scan, one
// merge) into a single transaction. Nothing is durable until Commit; a batch
// abandoned mid-way leaves the store exactly as it was.
type Batch struct {
	tx *sql.Tx
}

// Begin starts a mutation batch.
func (s *Store) Begin() (*Batch, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting batch: %w", err)
	}
	return &Batch{tx: tx}, nil
}

// Commit flushes the batch to disk.
func (b *Batch) Commit() error {
	return b.tx.Commit()
}

// Rollback discards the batch. Safe to call after Commit.
func (b *Batch) Rollback() error {
	err := b.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// UpsertDailySnapshot writes a snapshot with replace semantics keyed by date;
// last write wins and re-applying the same value is a no-op.
func (b *Batch) UpsertDailySnapshot(d DailySnapshot) error {
	_, err := b.tx.Exec(`INSERT INTO daily_snapshots (date, cost, messages, tokens, sessions, machine)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			cost = excluded.cost, messages = excluded.messages,
			tokens = excluded.tokens, sessions = excluded.sessions,
			machine = excluded.machine`,
		d.Date, d.Cost, d.Messages, d.Tokens, d.Sessions, d.Machine)
	return err
}

// UpsertModelUsage writes a usage row with replace semantics keyed by
// (date, model).
func (b *Batch) UpsertModelUsage(m ModelUsage) error {
	_, err := b.tx.Exec(`INSERT OR REPLACE INTO model_usage
		(date, model, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.Date, m.Model, m.InputTokens, m.OutputTokens, m.CacheReadTokens, m.CacheWriteTokens)
	return err
}

// MergeDailySnapshot adds a remote snapshot's totals into the existing row
// for that date, or inserts the row when the date is new. Returns true when
// the row was inserted (an import) rather than merged.
func (b *Batch) MergeDailySnapshot(d DailySnapshot) (imported bool, err error) {
	res, err := b.tx.Exec(`UPDATE daily_snapshots SET
			cost = cost + ?, messages = messages + ?,
			tokens = tokens + ?, sessions = sessions + ?
		WHERE date = ?`,
		d.Cost, d.Messages, d.Tokens, d.Sessions, d.Date)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	_, err = b.tx.Exec(`INSERT INTO daily_snapshots (date, cost, messages, tokens, sessions, machine)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Date, d.Cost, d.Messages, d.Tokens, d.Sessions, d.Machine)
	return err == nil, err
}

// MergeModelUsage applies the same additive policy at (date, model)
// granularity.
func (b *Batch) MergeModelUsage(m ModelUsage) (imported bool, err error) {
	res, err := b.tx.Exec(`UPDATE model_usage SET
			input_tokens = input_tokens + ?, output_tokens = output_tokens + ?,
			cache_read_tokens = cache_read_tokens + ?, cache_write_tokens = cache_write_tokens + ?
		WHERE date = ? AND model = ?`,
		m.InputTokens, m.OutputTokens, m.CacheReadTokens, m.CacheWriteTokens, m.Date, m.Model)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	_, err = b.tx.Exec(`INSERT INTO model_usage
		(date, model, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.Date, m.Model, m.InputTokens, m.OutputTokens, m.CacheReadTokens, m.CacheWriteTokens)
	return err == nil, err
}

// PutFingerprint records a file's fingerprint, replacing any prior entry.
// Call only after the file has been fully, successfully read.
func (b *Batch) PutFingerprint(path string, fp Fingerprint) error {
	_, err := b.tx.Exec(`INSERT OR REPLACE INTO file_fingerprints (path, mtime_ns, size_bytes)
		VALUES (?, ?, ?)`, path, fp.MtimeNs, fp.SizeBytes)
	return err
}

// ReplaceFileUsage swaps out one file's complete contribution set. A changed
// file is always re-read whole, so its prior rows are dropped first.
func (b *Batch) ReplaceFileUsage(path string, rows []FileUsage) error {
	if _, err := b.tx.Exec(`DELETE FROM file_usage WHERE path = ?`, path); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := b.tx.Exec(`INSERT INTO file_usage
			(path, session_id, date, model, input_tokens, output_tokens,
			 cache_read_tokens, cache_write_tokens, messages)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Path, r.SessionID, r.Date, r.Model, r.InputTokens, r.OutputTokens,
			r.CacheReadTokens, r.CacheWriteTokens, r.Messages)
		if err != nil {
			return err
		}
	}
	return nil
}

// ClearFiles drops all file contributions and fingerprints, forcing the next
// fold to rebuild from whatever the current scan reads.
func (b *Batch) ClearFiles() error {
	if _, err := b.tx.Exec(`DELETE FROM file_usage`); err != nil {
		return err
	}
	_, err := b.tx.Exec(`DELETE FROM file_fingerprints`)
	return err
}

// AllFileUsage returns every file contribution visible to the batch,
// including rows written earlier in the same batch.
func (b *Batch) AllFileUsage() ([]FileUsage, error) {
	rows, err := b.tx.Query(`SELECT path, session_id, date, model, input_tokens,
		output_tokens, cache_read_tokens, cache_write_tokens, messages FROM file_usage`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FileUsage
	for rows.Next() {
		var r FileUsage
		if err := rows.Scan(&r.Path, &r.SessionID, &r.Date, &r.Model, &r.InputTokens,
			&r.OutputTokens, &r.CacheReadTokens, &r.CacheWriteTokens, &r.Messages); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
