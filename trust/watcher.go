package trust

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// CountCAFiles counts regular files in <dir>/ca.
func CountCAFiles(dir string) int {
	entries, err := os.ReadDir(filepath.Join(dir, CADir))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

// Watcher reports when the number of custom CA files differs from what was loaded.
// fsnotify gives prompt detection; the ticker reconciles in case events are missed.
type Watcher struct {
	dir      string
	initial  int
	interval time.Duration
	onChange func(before, after int)
}

func NewWatcher(dir string, initial int, interval time.Duration, onChange func(before, after int)) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Watcher{dir: dir, initial: initial, interval: interval, onChange: onChange}
}

// Run blocks until ctx is cancelled or a change has been reported.
func (w *Watcher) Run(ctx context.Context) {
	var events <-chan fsnotify.Event
	var errs <-chan error

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, CA directory is polled only")
	} else {
		defer fsw.Close()
		if err := fsw.Add(filepath.Join(w.dir, CADir)); err != nil {
			log.Warn().Err(err).Str("dir", w.dir).Msg("cannot watch CA directory, polling only")
		} else {
			events, errs = fsw.Events, fsw.Errors
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if w.check() {
					return
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("CA directory watch error")
		case <-ticker.C:
			if w.check() {
				return
			}
		}
	}
}

func (w *Watcher) check() bool {
	current := CountCAFiles(w.dir)
	if current == w.initial {
		return false
	}
	log.Warn().Int("before", w.initial).Int("after", current).Msg("number of custom CAs has changed")
	w.onChange(w.initial, current)
	return true
}
