// Package watcher keeps system knowledge bases in sync with the
// directory they were scanned from. It is an optional layer on top of
// the one-shot startup scan: new or changed .txt files are re-ingested,
// deleted files drop their system entry.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Engine is the slice of the retrieval engine the watcher drives.
type Engine interface {
	// SystemLoaded reports whether the startup scan has completed. The
	// watcher stays quiet until it has, so the scan and the watcher never
	// ingest the same file twice.
	SystemLoaded() bool
	// ReingestSystemFile loads or replaces one system knowledge base.
	ReingestSystemFile(ctx context.Context, path string) error
	// DropSystemKB removes one system knowledge base.
	DropSystemKB(name string) bool
}

// Watcher debounces filesystem events on the knowledge-base directory
// and applies them to the engine.
type Watcher struct {
	dir      string
	debounce time.Duration
	engine   Engine
	logger   *slog.Logger

	fsw  *fsnotify.Watcher
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for dir. Start must be called before events
// flow.
func New(dir string, debounce time.Duration, engine Engine, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		engine:   engine,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins watching. The returned error covers setup only; runtime
// watch errors are logged.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("watching knowledge-base directory",
		slog.String("dir", w.dir),
		slog.Duration("debounce", w.debounce))
	return nil
}

// Close stops the watcher and waits for the event loop to drain.
func (w *Watcher) Close() error {
	close(w.stop)
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()
	return err
}

// pendingKind records the last observed change per file within one
// debounce window. A remove after a write wins, and vice versa.
type pendingKind int

const (
	pendingIngest pendingKind = iota
	pendingDrop
)

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]pendingKind)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".txt") {
				continue
			}
			if !w.engine.SystemLoaded() {
				continue
			}

			switch {
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				pending[ev.Name] = pendingDrop
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				pending[ev.Name] = pendingIngest
			default:
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			w.apply(ctx, pending)
			pending = make(map[string]pendingKind)
			fire = nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-ctx.Done():
			return
		case <-w.stop:
			return
		}
	}
}

// apply replays the settled changes against the engine. One failing
// file never blocks the others.
func (w *Watcher) apply(ctx context.Context, pending map[string]pendingKind) {
	for path, kind := range pending {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		switch kind {
		case pendingIngest:
			if err := w.engine.ReingestSystemFile(ctx, path); err != nil {
				w.logger.Warn("failed to re-ingest changed file",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			w.logger.Info("re-ingested knowledge base", slog.String("name", name))

		case pendingDrop:
			if w.engine.DropSystemKB(name) {
				w.logger.Info("dropped removed knowledge base", slog.String("name", name))
			}
		}
	}
}
