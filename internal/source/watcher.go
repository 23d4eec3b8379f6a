package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher turns a burst of spool-directory changes into a single debounced
// trigger. Each new filesystem event restarts the delay timer, so a trigger
// fires only after the directory has been quiet for the full debounce
// period (last-write-wins coalescing, single-flight).
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	triggers chan struct{}
	logger   *zap.Logger
}

// NewWatcher starts watching dir. Call Run to drive the debounce loop and
// Close to release the underlying watcher.
func NewWatcher(dir string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("source: nil logger")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source: create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("source: watch %s: %w", dir, err)
	}

	return &Watcher{
		fsw:      fsw,
		debounce: debounce,
		triggers: make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// Triggers delivers one value per debounced change burst. The channel has a
// one-slot buffer; a trigger that arrives while a previous one is still
// unconsumed is dropped, since the pending rescan will already observe the
// new state.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if strings.HasSuffix(ev.Name, ".tmp") {
				continue
			}

			// Restart the timer: the newest event always wins.
			if !timer.Stop() && armed {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			armed = true

		case <-timer.C:
			armed = false
			select {
			case w.triggers <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("spool watcher error", zap.Error(err))
		}
	}
}

// Close releases the filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
