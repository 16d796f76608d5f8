// Package pipeline orchestrates scanning: fingerprint diffing, sequential
// parsing, aggregation, pricing, and the single-transaction store commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/hildvein/usagevault/internal/aggregate"
	"github.com/hildvein/usagevault/internal/pricing"
	"github.com/hildvein/usagevault/internal/source"
	"github.com/hildvein/usagevault/internal/store"
)

// ErrScanInFlight is returned when a scan is requested while a previous one
// on the same runner has not finished. The store is a single-writer resource;
// concurrent scans risk interleaved writes.
var ErrScanInFlight = errors.New("a scan is already in flight")

// Options controls one scan.
type Options struct {
	Root        string
	Incremental bool
}

// ProgressFunc is called after each processed file.
type ProgressFunc func(current, total int)

// Result holds the outcome of one scan. Skip counts are reported rather than
// discarded so resiliency stays observable.
type Result struct {
	TotalFiles   int
	ParsedFiles  int
	CacheHits    int
	FileErrors   int
	SkippedLines int

	Snapshots  []store.DailySnapshot
	ModelUsage []store.ModelUsage
}

// Runner serializes scans against one store.
type Runner struct {
	busy atomic.Bool
}

// NewRunner returns a runner for a single store.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes one scan batch. Files are processed strictly sequentially; the
// bottleneck is I/O volume, not CPU, and a single writer keeps the aggregation
// free of shared mutable state. The whole batch commits in one transaction:
// when ctx expires mid-scan nothing is persisted and the stale fingerprints
// make a retry safe.
//
// With a nil store the scan still computes and returns results in memory;
// persistence is skipped. That is the degraded mode for an unopenable store.
func (r *Runner) Run(ctx context.Context, opts Options, st *store.Store, prices *pricing.Table, progress ProgressFunc) (*Result, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrScanInFlight
	}
	defer r.busy.Store(false)

	files, err := source.ScanDir(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", opts.Root, err)
	}

	if st == nil {
		return runDetached(ctx, files, prices, progress)
	}

	machineID, err := st.MachineID()
	if err != nil {
		return nil, err
	}

	var fps map[string]store.Fingerprint
	if opts.Incremental {
		fps, err = st.Fingerprints()
		if err != nil {
			// Fail open: an unreadable fingerprint table means every file is
			// rescanned. A full rescan is always safe, a silent skip is not.
			log.Printf("usagevault: fingerprints unreadable, rescanning all files: %v", err)
			fps = nil
		}
	}

	batch, err := st.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = batch.Rollback() }()

	if !opts.Incremental {
		if err := batch.ClearFiles(); err != nil {
			return nil, fmt.Errorf("clearing file data: %w", err)
		}
	}

	res := &Result{TotalFiles: len(files)}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan aborted: %w", err)
		}

		if fp, ok := fps[f.Path]; opts.Incremental && ok &&
			fp.MtimeNs == f.MtimeNs && fp.SizeBytes == f.SizeBytes {
			res.CacheHits++
			continue
		}

		fr := source.ParseFile(f)
		if fr.Err != nil {
			// One unreadable file never aborts the tree. Its fingerprint is
			// not recorded, so the next scan tries again.
			log.Printf("usagevault: skipping %s: %v", f.Path, fr.Err)
			res.FileErrors++
			continue
		}
		res.ParsedFiles++
		res.SkippedLines += fr.SkippedLines

		if err := batch.ReplaceFileUsage(f.Path, fileRows(f, fr.Events)); err != nil {
			return nil, fmt.Errorf("recording %s: %w", f.Path, err)
		}
		if err := batch.PutFingerprint(f.Path, store.Fingerprint{MtimeNs: f.MtimeNs, SizeBytes: f.SizeBytes}); err != nil {
			return nil, fmt.Errorf("fingerprinting %s: %w", f.Path, err)
		}

		if progress != nil {
			progress(i+1, len(files))
		}
	}

	contributions, err := batch.AllFileUsage()
	if err != nil {
		return nil, fmt.Errorf("reading contributions: %w", err)
	}

	table := refold(contributions)
	res.Snapshots, res.ModelUsage = priceTable(table, prices, machineID)

	for _, snap := range res.Snapshots {
		if err := batch.UpsertDailySnapshot(snap); err != nil {
			return nil, fmt.Errorf("upserting snapshot %s: %w", snap.Date, err)
		}
	}
	for _, mu := range res.ModelUsage {
		if err := batch.UpsertModelUsage(mu); err != nil {
			return nil, fmt.Errorf("upserting model usage %s/%s: %w", mu.Date, mu.Model, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("committing scan: %w", err)
	}
	return res, nil
}

// fileRows folds one file's events into its per-(date, model) contribution
// rows.
func fileRows(f source.SessionFile, events []source.UsageEvent) []store.FileUsage {
	t := aggregate.New()
	for _, ev := range events {
		t.Fold(ev)
	}

	var rows []store.FileUsage
	for _, date := range t.Dates() {
		for model, acc := range t.Days[date] {
			rows = append(rows, store.FileUsage{
				Path:             f.Path,
				SessionID:        f.SessionID,
				Date:             date,
				Model:            model,
				InputTokens:      acc.Input,
				OutputTokens:     acc.Output,
				CacheReadTokens:  acc.CacheRead,
				CacheWriteTokens: acc.CacheWrite,
				Messages:         acc.Messages,
			})
		}
	}
	return rows
}

// refold rebuilds the global per-date table from stored file contributions.
// Contributions persist even after their source file rotates away, which is
// how totals outlive the logs.
func refold(rows []store.FileUsage) *aggregate.Table {
	t := aggregate.New()
	for _, r := range rows {
		t.FoldBucket(r.Date, r.Model, r.SessionID, aggregate.Accumulator{
			Input:      r.InputTokens,
			Output:     r.OutputTokens,
			CacheRead:  r.CacheReadTokens,
			CacheWrite: r.CacheWriteTokens,
			Messages:   r.Messages,
		})
	}
	return t
}

// priceTable converts an aggregation table into persisted row values, pricing
// every model bucket through the shared table.
func priceTable(t *aggregate.Table, prices *pricing.Table, machineID string) ([]store.DailySnapshot, []store.ModelUsage) {
	var snaps []store.DailySnapshot
	var usage []store.ModelUsage

	for _, date := range t.Dates() {
		var cost float64
		for model, acc := range t.Days[date] {
			cost += prices.CostOf(model, acc.Input, acc.Output, acc.CacheRead, acc.CacheWrite)
			usage = append(usage, store.ModelUsage{
				Date:             date,
				Model:            model,
				InputTokens:      acc.Input,
				OutputTokens:     acc.Output,
				CacheReadTokens:  acc.CacheRead,
				CacheWriteTokens: acc.CacheWrite,
			})
		}

		day := t.DayTotal(date)
		snaps = append(snaps, store.DailySnapshot{
			Date:     date,
			Cost:     cost,
			Messages: day.Messages,
			Tokens:   day.Tokens(),
			Sessions: int64(t.SessionCount(date)),
			Machine:  machineID,
		})
	}
	return snaps, usage
}

// runDetached computes scan results without a store.
func runDetached(ctx context.Context, files []source.SessionFile, prices *pricing.Table, progress ProgressFunc) (*Result, error) {
	res := &Result{TotalFiles: len(files)}
	t := aggregate.New()

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan aborted: %w", err)
		}

		fr := source.ParseFile(f)
		if fr.Err != nil {
			log.Printf("usagevault: skipping %s: %v", f.Path, fr.Err)
			res.FileErrors++
			continue
		}
		res.ParsedFiles++
		res.SkippedLines += fr.SkippedLines

		for _, ev := range fr.Events {
			t.Fold(ev)
		}
		if progress != nil {
			progress(i+1, len(files))
		}
	}

	res.Snapshots, res.ModelUsage = priceTable(t, prices, "")
	return res, nil
}
