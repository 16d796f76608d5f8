// Package daemon runs fixed-cadence scans and serves the read-only query
// surface consumed by dashboards and status bars.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/hildvein/usagevault/internal/pipeline"
	"github.com/hildvein/usagevault/internal/pricing"
	"github.com/hildvein/usagevault/internal/store"
	"github.com/hildvein/usagevault/internal/watcher"
)

// Config controls the daemon runtime behavior.
type Config struct {
	LogRoot     string
	Addr        string
	Interval    time.Duration
	ScanTimeout time.Duration
	Watch       bool
}

// Status is served at /v1/status.
type Status struct {
	StartedAt    time.Time    `json:"started_at"`
	LastScanAt   time.Time    `json:"last_scan_at"`
	ScanCount    int64        `json:"scan_count"`
	IntervalSec  int          `json:"interval_sec"`
	LogRoot      string       `json:"log_root"`
	LastError    string       `json:"last_error,omitempty"`
	LastScan     ScanSummary  `json:"last_scan"`
	Totals       store.Totals `json:"totals"`
}

// ScanSummary is the compact outcome of the most recent scan.
type ScanSummary struct {
	TotalFiles   int `json:"total_files"`
	ParsedFiles  int `json:"parsed_files"`
	CacheHits    int `json:"cache_hits"`
	FileErrors   int `json:"file_errors"`
	SkippedLines int `json:"skipped_lines"`
}

// Service drives scans on a cadence and answers read-only queries. The store
// is a single-writer resource: the runner refuses overlapping scans, and a
// trigger that arrives mid-scan is simply dropped because the next tick
// covers it.
type Service struct {
	cfg    Config
	st     *store.Store
	prices *pricing.Table
	runner *pipeline.Runner

	mu         sync.RWMutex
	startedAt  time.Time
	lastScanAt time.Time
	scanCount  int64
	lastError  string
	lastScan   ScanSummary
}

// New returns a daemon service with the provided config.
func New(cfg Config, st *store.Store, prices *pricing.Table) *Service {
	if cfg.Interval < 10*time.Second {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 2 * time.Minute
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8791"
	}

	return &Service{
		cfg:       cfg,
		st:        st,
		prices:    prices,
		runner:    pipeline.NewRunner(),
		startedAt: time.Now(),
	}
}

// Run serves HTTP and scans until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/totals", s.handleTotals)
	mux.HandleFunc("/v1/daily", s.handleDaily)
	mux.HandleFunc("/v1/models", s.handleModels)

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var changes <-chan struct{}
	if s.cfg.Watch {
		w := watcher.New(s.cfg.LogRoot, 2*time.Second)
		if err := w.Start(); err != nil {
			log.Printf("usagevault daemon: filesystem watch unavailable: %v", err)
		} else {
			changes = w.C()
			defer w.Stop()
		}
	}

	// Seed so queries are fresh immediately.
	s.scanOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.scanOnce(ctx)
		case <-changes:
			s.scanOnce(ctx)
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

func (s *Service) scanOnce(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	res, err := s.runner.Run(scanCtx, pipeline.Options{Root: s.cfg.LogRoot, Incremental: true}, s.st, s.prices, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScanAt = time.Now()
	s.scanCount++

	if err != nil {
		if errors.Is(err, pipeline.ErrScanInFlight) {
			return
		}
		s.lastError = err.Error()
		log.Printf("usagevault daemon: scan failed: %v", err)
		return
	}

	s.lastError = ""
	s.lastScan = ScanSummary{
		TotalFiles:   res.TotalFiles,
		ParsedFiles:  res.ParsedFiles,
		CacheHits:    res.CacheHits,
		FileErrors:   res.FileErrors,
		SkippedLines: res.SkippedLines,
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	totals, err := s.st.TotalsAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.RLock()
	status := Status{
		StartedAt:   s.startedAt,
		LastScanAt:  s.lastScanAt,
		ScanCount:   s.scanCount,
		IntervalSec: int(s.cfg.Interval.Seconds()),
		LogRoot:     s.cfg.LogRoot,
		LastError:   s.lastError,
		LastScan:    s.lastScan,
		Totals:      totals,
	}
	s.mu.RUnlock()

	writeJSON(w, status)
}

func (s *Service) handleTotals(w http.ResponseWriter, _ *http.Request) {
	totals, err := s.st.TotalsAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, totals)
}

func (s *Service) handleDaily(w http.ResponseWriter, _ *http.Request) {
	snaps, err := s.st.AllDailySnapshots()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []store.DailySnapshot{}
	}
	writeJSON(w, snaps)
}

func (s *Service) handleModels(w http.ResponseWriter, _ *http.Request) {
	usage, err := s.st.AllModelUsage()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if usage == nil {
		usage = []store.ModelUsage{}
	}
	writeJSON(w, usage)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
