// Package source discovers session log files and parses them into usage
// events.
package source

import (
	"bufio"
	"encoding/json"
	"os"
	"time"
)

// UsageEvent is one assistant turn's token usage, attributed to a session and
// a model.
type UsageEvent struct {
	Timestamp  time.Time
	Model      string
	SessionID  string
	Input      int64
	Output     int64
	CacheRead  int64
	CacheWrite int64
}

// FileResult holds the outcome of parsing one log file.
type FileResult struct {
	Events       []UsageEvent
	SkippedLines int
	Err          error
}

// ParseFile streams a log file line by line and extracts usage events.
// Individual lines that fail to parse are counted and skipped; only a failure
// to open or read the file itself is reported as an error. The file is never
// loaded into memory whole.
func ParseFile(f SessionFile) FileResult {
	fh, err := os.Open(f.Path)
	if err != nil {
		return FileResult{Err: err}
	}
	defer func() { _ = fh.Close() }()

	var res FileResult

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry RawEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			res.SkippedLines++
			continue
		}

		ev, ok := eventFromEntry(&entry, f.SessionID)
		if !ok {
			continue
		}
		res.Events = append(res.Events, ev)
	}

	if err := scanner.Err(); err != nil {
		return FileResult{Err: err}
	}
	return res
}

// eventFromEntry filters and normalizes one record. Only assistant-role
// records with a non-empty usage block and a parseable timestamp participate;
// everything else is dropped without error.
//
// The role discriminator has two homes across schema versions: the top-level
// "type"/"role" fields, then message.role. The usage block likewise lives
// either at the top level or inside the message envelope; the message-level
// block wins when both are present.
func eventFromEntry(entry *RawEntry, sessionID string) (UsageEvent, bool) {
	role := entry.Type
	if role == "" {
		role = entry.Role
	}
	if role == "" && entry.Message != nil {
		role = entry.Message.Role
	}
	if role != "assistant" {
		return UsageEvent{}, false
	}

	usage := entry.Usage
	model := entry.Model
	if entry.Message != nil {
		if entry.Message.Usage != nil {
			usage = entry.Message.Usage
		}
		if entry.Message.Model != "" {
			model = entry.Message.Model
		}
	}
	if usage == nil || usage.empty() {
		return UsageEvent{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		return UsageEvent{}, false
	}

	in, out, cr, cw := usage.resolve()
	return UsageEvent{
		Timestamp:  ts,
		Model:      model,
		SessionID:  sessionID,
		Input:      in,
		Output:     out,
		CacheRead:  cr,
		CacheWrite: cw,
	}, true
}
