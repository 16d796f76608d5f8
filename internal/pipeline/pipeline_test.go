package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hildvein/usagevault/internal/aggregate"
	"github.com/hildvein/usagevault/internal/pricing"
	"github.com/hildvein/usagevault/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func writeSession(t *testing.T, root, session, file string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(root, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, file)
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func assistantLine(ts, model string, input, output int64) string {
	return fmt.Sprintf(`{"type":"assistant","timestamp":%q,"message":{"role":"assistant","model":%q,"usage":{"input_tokens":%d,"output_tokens":%d}}}`,
		ts, model, input, output)
}

// localDate mirrors the aggregation's day bucketing so tests hold in any
// timezone.
func localDate(t *testing.T, ts string) string {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t.Fatal(err)
	}
	return parsed.Local().Format(aggregate.DateFormat)
}

func TestRunFullScan(t *testing.T) {
	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	writeSession(t, root, "proj-a", "s1.jsonl",
		assistantLine(ts, "claude-opus-x", 1_000_000, 0),
		assistantLine(ts, "claude-opus-x", 1_000_000, 0),
	)

	st := openStore(t)
	res, err := NewRunner().Run(context.Background(), Options{Root: root}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFiles != 1 || res.ParsedFiles != 1 {
		t.Fatalf("files = %d/%d", res.TotalFiles, res.ParsedFiles)
	}
	if len(res.Snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(res.Snapshots))
	}

	snap := res.Snapshots[0]
	if snap.Date != localDate(t, ts) {
		t.Errorf("date = %s", snap.Date)
	}
	// Two million opus input tokens at $15/MTok.
	if math.Abs(snap.Cost-30.0) > 1e-9 {
		t.Errorf("cost = %v, want 30.0", snap.Cost)
	}
	if snap.Messages != 2 || snap.Tokens != 2_000_000 || snap.Sessions != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	// Persisted rows match the returned ones.
	persisted, err := st.AllDailySnapshots()
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || persisted[0].Cost != snap.Cost || persisted[0].Tokens != snap.Tokens {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestRunIncrementalSkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	writeSession(t, root, "proj-a", "s1.jsonl", assistantLine(ts, "claude-sonnet-4", 100, 50))
	writeSession(t, root, "proj-b", "s2.jsonl", assistantLine(ts, "claude-sonnet-4", 200, 25))

	st := openStore(t)
	runner := NewRunner()
	first, err := runner.Run(context.Background(), Options{Root: root, Incremental: true}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.ParsedFiles != 2 || first.CacheHits != 0 {
		t.Fatalf("first scan: %+v", first)
	}

	second, err := runner.Run(context.Background(), Options{Root: root, Incremental: true}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.CacheHits != 2 || second.ParsedFiles != 0 {
		t.Fatalf("second scan should be all cache hits: %+v", second)
	}

	// Totals unchanged: skipping is invisible in the numbers.
	if len(second.Snapshots) != 1 || second.Snapshots[0].Tokens != first.Snapshots[0].Tokens {
		t.Errorf("totals drifted across a no-op scan: %+v vs %+v", first.Snapshots, second.Snapshots)
	}
	// Two session directories contributed on the same date.
	if got := second.Snapshots[0].Sessions; got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
}

func TestRunFullRescanIdempotent(t *testing.T) {
	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	writeSession(t, root, "proj-a", "s1.jsonl",
		assistantLine(ts, "claude-sonnet-4", 100, 50),
		assistantLine(ts, "claude-opus-x", 10, 5),
	)

	st := openStore(t)
	runner := NewRunner()
	first, err := runner.Run(context.Background(), Options{Root: root}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := runner.Run(context.Background(), Options{Root: root}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(first.Snapshots) != len(second.Snapshots) {
		t.Fatalf("snapshot counts differ: %d vs %d", len(first.Snapshots), len(second.Snapshots))
	}
	for i := range first.Snapshots {
		if first.Snapshots[i] != second.Snapshots[i] {
			t.Errorf("snapshot %d differs: %+v vs %+v", i, first.Snapshots[i], second.Snapshots[i])
		}
	}
	if len(first.ModelUsage) != len(second.ModelUsage) {
		t.Errorf("model usage counts differ: %d vs %d", len(first.ModelUsage), len(second.ModelUsage))
	}
}

func TestRunIncrementalRepricesChangedFile(t *testing.T) {
	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	path := writeSession(t, root, "proj-a", "s1.jsonl", assistantLine(ts, "claude-sonnet-4", 100, 0))

	st := openStore(t)
	runner := NewRunner()
	if _, err := runner.Run(context.Background(), Options{Root: root, Incremental: true}, st, pricing.DefaultTable(), nil); err != nil {
		t.Fatal(err)
	}

	// The file grows; its contribution is replaced, not added on top.
	writeSession(t, root, "proj-a", "s1.jsonl",
		assistantLine(ts, "claude-sonnet-4", 100, 0),
		assistantLine(ts, "claude-sonnet-4", 300, 0),
	)
	boostMtime(t, path)

	res, err := runner.Run(context.Background(), Options{Root: root, Incremental: true}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ParsedFiles != 1 {
		t.Fatalf("changed file not re-parsed: %+v", res)
	}
	if got := res.Snapshots[0].Tokens; got != 400 {
		t.Errorf("tokens = %d, want 400 (replace, not double-count)", got)
	}
	if got := res.Snapshots[0].Messages; got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}

// boostMtime pushes a file's mtime forward so a rewrite within the same
// clock tick still reads as changed.
func boostMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestRunSurvivesLogRotation(t *testing.T) {
	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	path := writeSession(t, root, "proj-a", "s1.jsonl", assistantLine(ts, "claude-sonnet-4", 500, 100))

	st := openStore(t)
	runner := NewRunner()
	first, err := runner.Run(context.Background(), Options{Root: root, Incremental: true}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}

	// The log rotates away entirely.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	second, err := runner.Run(context.Background(), Options{Root: root, Incremental: true}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.TotalFiles != 0 {
		t.Fatalf("files = %d, want 0 after rotation", second.TotalFiles)
	}
	if len(second.Snapshots) != 1 || second.Snapshots[0].Tokens != first.Snapshots[0].Tokens {
		t.Errorf("totals must survive rotation: %+v", second.Snapshots)
	}
}

func TestRunCountsBadInput(t *testing.T) {
	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	writeSession(t, root, "proj-a", "good.jsonl",
		assistantLine(ts, "claude-sonnet-4", 10, 5),
		`{garbage`,
		`also garbage`,
	)

	st := openStore(t)
	res, err := NewRunner().Run(context.Background(), Options{Root: root}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.SkippedLines != 2 {
		t.Errorf("skipped lines = %d, want 2", res.SkippedLines)
	}
	if len(res.Snapshots) != 1 || res.Snapshots[0].Messages != 1 {
		t.Errorf("good line lost amid bad ones: %+v", res.Snapshots)
	}
}

func TestRunDetachedWithoutStore(t *testing.T) {
	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	writeSession(t, root, "proj-a", "s1.jsonl", assistantLine(ts, "claude-opus-x", 1_000_000, 0))

	res, err := NewRunner().Run(context.Background(), Options{Root: root}, nil, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(res.Snapshots))
	}
	if math.Abs(res.Snapshots[0].Cost-15.0) > 1e-9 {
		t.Errorf("cost = %v, want 15.0", res.Snapshots[0].Cost)
	}
	if res.Snapshots[0].Machine != "" {
		t.Errorf("detached snapshots carry no machine tag, got %q", res.Snapshots[0].Machine)
	}
}

func TestRunAbortPersistsNothing(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "proj-a", "s1.jsonl",
		assistantLine("2025-06-01T12:00:00Z", "claude-sonnet-4", 10, 5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := openStore(t)
	if _, err := NewRunner().Run(ctx, Options{Root: root}, st, pricing.DefaultTable(), nil); err == nil {
		t.Fatal("expected abort error")
	}

	snaps, err := st.AllDailySnapshots()
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 0 {
		t.Errorf("aborted scan leaked rows: %+v", snaps)
	}
	fps, err := st.Fingerprints()
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 0 {
		t.Errorf("aborted scan leaked fingerprints")
	}
}

func TestRunMissingRoot(t *testing.T) {
	st := openStore(t)
	res, err := NewRunner().Run(context.Background(),
		Options{Root: filepath.Join(t.TempDir(), "nope")}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFiles != 0 || len(res.Snapshots) != 0 {
		t.Errorf("missing root should scan to empty: %+v", res)
	}
}

func TestRunUnreadableFileDoesNotAbort(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are advisory when running as root")
	}

	root := t.TempDir()
	ts := "2025-06-01T12:00:00Z"
	writeSession(t, root, "proj-a", "good.jsonl", assistantLine(ts, "claude-sonnet-4", 10, 5))
	bad := writeSession(t, root, "proj-b", "bad.jsonl", assistantLine(ts, "claude-sonnet-4", 10, 5))
	if err := os.Chmod(bad, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(bad, 0o600) })

	st := openStore(t)
	res, err := NewRunner().Run(context.Background(), Options{Root: root, Incremental: true}, st, pricing.DefaultTable(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.FileErrors != 1 || res.ParsedFiles != 1 {
		t.Fatalf("result = %+v, want one error and one parse", res)
	}

	// No fingerprint for the failed file: the next scan retries it.
	fps, err := st.Fingerprints()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fps[bad]; ok {
		t.Error("failed file must not be fingerprinted")
	}
}
