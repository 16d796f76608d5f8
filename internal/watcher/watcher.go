// Package watcher signals when session logs under a root change, so the
// daemon can scan on activity instead of waiting for the next tick.
package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher coalesces filesystem events on log files into debounced change
// notifications. Scans are batch jobs, so one notification per burst of
// writes is enough.
type Watcher struct {
	root     string
	debounce time.Duration
	notify   chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// New returns a watcher for the log root. Notifications are delivered on C.
func New(root string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// C delivers one signal per debounced burst of log changes.
func (w *Watcher) C() <-chan struct{} {
	return w.notify
}

// Start begins watching. New session directories are picked up as they
// appear because directory-create events add watches on the fly.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	_ = filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() {
			_ = fsw.Add(path)
		}
		return nil
	})

	go func() {
		defer close(w.done)
		defer func() { _ = fsw.Close() }()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = fsw.Add(event.Name)
						continue
					}
				}
				if filepath.Ext(event.Name) != ".jsonl" {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.debounce)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				select {
				case w.notify <- struct{}{}:
				default:
				}
			case <-fsw.Errors:
				// The daemon's periodic tick is the fallback when the
				// platform watcher misbehaves.
			case <-w.stop:
				return
			}
		}
	}()

	return nil
}

// Stop shuts the watcher down and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}
