package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLog(t *testing.T, dir, name string, lines ...string) SessionFile {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return SessionFile{
		Path:      path,
		SessionID: dir,
		MtimeNs:   fi.ModTime().UnixNano(),
		SizeBytes: fi.Size(),
	}
}

func TestParseFileAssistantEvents(t *testing.T) {
	dir := t.TempDir()
	f := writeLog(t, dir, "session.jsonl",
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"role":"assistant","model":"claude-sonnet-4","usage":{"input_tokens":100,"output_tokens":50,"cache_read_input_tokens":400,"cache_creation_input_tokens":25}}}`,
		`{"type":"user","timestamp":"2025-06-01T10:00:05Z","message":{"role":"user"}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:01:00Z","message":{"role":"assistant","model":"claude-opus-4","usage":{"input_tokens":10,"output_tokens":20}}}`,
	)

	res := ParseFile(f)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(res.Events))
	}

	ev := res.Events[0]
	if ev.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", ev.Model)
	}
	if ev.SessionID != dir {
		t.Errorf("session = %q, want %q", ev.SessionID, dir)
	}
	if ev.Input != 100 || ev.Output != 50 || ev.CacheRead != 400 || ev.CacheWrite != 25 {
		t.Errorf("tokens = %d/%d/%d/%d", ev.Input, ev.Output, ev.CacheRead, ev.CacheWrite)
	}
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, want)
	}
}

func TestParseFileSkipsNonUsageRecords(t *testing.T) {
	dir := t.TempDir()
	f := writeLog(t, dir, "s.jsonl",
		// assistant with empty usage: dropped, not an error
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"role":"assistant","model":"m","usage":{}}}`,
		// assistant without usage at all
		`{"type":"assistant","timestamp":"2025-06-01T10:00:01Z","message":{"role":"assistant","model":"m"}}`,
		// assistant with unparseable timestamp
		`{"type":"assistant","timestamp":"yesterday","message":{"role":"assistant","model":"m","usage":{"input_tokens":1}}}`,
		// summary record
		`{"type":"summary","summary":"did things"}`,
	)

	res := ParseFile(f)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("got %d events, want 0", len(res.Events))
	}
	if res.SkippedLines != 0 {
		t.Errorf("well-formed non-usage lines should not count as skipped, got %d", res.SkippedLines)
	}
}

func TestParseFileCountsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	f := writeLog(t, dir, "s.jsonl",
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"role":"assistant","model":"m","usage":{"input_tokens":5}}}`,
		`{not json at all`,
		``,
		`broken`,
	)

	res := ParseFile(f)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	if res.SkippedLines != 2 {
		t.Errorf("skipped = %d, want 2 (blank lines do not count)", res.SkippedLines)
	}
}

func TestParseFileTopLevelUsage(t *testing.T) {
	// Older schema: role and usage at the top level, no message envelope.
	dir := t.TempDir()
	f := writeLog(t, dir, "s.jsonl",
		`{"role":"assistant","timestamp":"2025-06-01T10:00:00Z","model":"claude-haiku-3","usage":{"input_tokens":7,"output_tokens":3,"cache_read_tokens":11,"cache_write_tokens":13}}`,
	)

	res := ParseFile(f)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	ev := res.Events[0]
	if ev.Model != "claude-haiku-3" {
		t.Errorf("model = %q", ev.Model)
	}
	if ev.CacheRead != 11 || ev.CacheWrite != 13 {
		t.Errorf("legacy cache fields not resolved: %d/%d", ev.CacheRead, ev.CacheWrite)
	}
}

func TestParseFileNestedCacheCreation(t *testing.T) {
	dir := t.TempDir()
	f := writeLog(t, dir, "s.jsonl",
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","message":{"role":"assistant","model":"m","usage":{"input_tokens":1,"cache_creation_input_tokens":999,"cache_creation":{"ephemeral_5m_input_tokens":30,"ephemeral_1h_input_tokens":12}}}}`,
	)

	res := ParseFile(f)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	// The nested breakdown wins over the flat field.
	if got := res.Events[0].CacheWrite; got != 42 {
		t.Errorf("cache write = %d, want 42", got)
	}
}

func TestParseFileMessageUsageWins(t *testing.T) {
	dir := t.TempDir()
	f := writeLog(t, dir, "s.jsonl",
		`{"type":"assistant","timestamp":"2025-06-01T10:00:00Z","model":"outer","usage":{"input_tokens":1},"message":{"role":"assistant","model":"inner","usage":{"input_tokens":99}}}`,
	)

	res := ParseFile(f)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	ev := res.Events[0]
	if ev.Model != "inner" || ev.Input != 99 {
		t.Errorf("message-level fields should win: model=%q input=%d", ev.Model, ev.Input)
	}
}

func TestParseFileMissing(t *testing.T) {
	res := ParseFile(SessionFile{Path: filepath.Join(t.TempDir(), "gone.jsonl")})
	if res.Err == nil {
		t.Fatal("expected error for missing file")
	}
}
