// Package aggregate folds usage events into per-date, per-model accumulators.
package aggregate

import (
	"sort"

	"github.com/hildvein/usagevault/internal/source"
)

// DateFormat is the calendar-day bucket key layout.
const DateFormat = "2006-01-02"

// Accumulator is one (date, model) bucket.
type Accumulator struct {
	Input      int64
	Output     int64
	CacheRead  int64
	CacheWrite int64
	Messages   int64
}

// Tokens returns the total of all four token categories.
func (a *Accumulator) Tokens() int64 {
	return a.Input + a.Output + a.CacheRead + a.CacheWrite
}

// Add folds another accumulator into a.
func (a *Accumulator) Add(b Accumulator) {
	a.Input += b.Input
	a.Output += b.Output
	a.CacheRead += b.CacheRead
	a.CacheWrite += b.CacheWrite
	a.Messages += b.Messages
}

// Table is the reduction target: date -> model -> accumulator, plus the set
// of sessions that contributed events on each date. The fold is associative
// and commutative, so totals do not depend on the order events arrive in and
// re-folding the same events into a fresh table reproduces the same state.
type Table struct {
	Days     map[string]map[string]*Accumulator
	Sessions map[string]map[string]struct{}
}

// New returns an empty table.
func New() *Table {
	return &Table{
		Days:     make(map[string]map[string]*Accumulator),
		Sessions: make(map[string]map[string]struct{}),
	}
}

// Fold adds one event. The date bucket is the local calendar day of the
// event timestamp: attribution should match the user's perceived day, not
// the UTC day.
func (t *Table) Fold(ev source.UsageEvent) {
	date := ev.Timestamp.Local().Format(DateFormat)
	t.FoldBucket(date, ev.Model, ev.SessionID, Accumulator{
		Input:      ev.Input,
		Output:     ev.Output,
		CacheRead:  ev.CacheRead,
		CacheWrite: ev.CacheWrite,
		Messages:   1,
	})
}

// FoldBucket adds a pre-aggregated contribution for a (date, model) pair.
// An empty sessionID adds token totals without touching the session set.
func (t *Table) FoldBucket(date, model, sessionID string, acc Accumulator) {
	models, ok := t.Days[date]
	if !ok {
		models = make(map[string]*Accumulator)
		t.Days[date] = models
	}
	bucket, ok := models[model]
	if !ok {
		bucket = &Accumulator{}
		models[model] = bucket
	}
	bucket.Add(acc)

	if sessionID == "" {
		return
	}
	sessions, ok := t.Sessions[date]
	if !ok {
		sessions = make(map[string]struct{})
		t.Sessions[date] = sessions
	}
	sessions[sessionID] = struct{}{}
}

// Dates returns the table's dates in ascending order.
func (t *Table) Dates() []string {
	dates := make([]string, 0, len(t.Days))
	for d := range t.Days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// SessionCount returns the number of distinct sessions that contributed on a
// date.
func (t *Table) SessionCount(date string) int {
	return len(t.Sessions[date])
}

// DayTotal sums all model buckets for one date.
func (t *Table) DayTotal(date string) Accumulator {
	var total Accumulator
	for _, acc := range t.Days[date] {
		total.Add(*acc)
	}
	return total
}
