package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/event"
	"github.com/Aman-CERP/ragkb/internal/kb"
	"github.com/Aman-CERP/ragkb/internal/state"
)

// ensureSystemLoad runs the one-shot system knowledge-base scan. All
// concurrent callers share a single execution and return when it
// finishes; once the scan has completed it never runs again for the
// lifetime of the engine.
func (e *Engine) ensureSystemLoad(ctx context.Context) error {
	e.mu.Lock()
	done := e.sysLoaded
	e.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := e.loadGroup.Do("system-load", func() (any, error) {
		return nil, e.loadSystemKBs(ctx)
	})
	return err
}

// loadSystemKBs scans the knowledge-base directory for .txt files and
// ingests each as a system entry. One broken file never aborts the
// rest. If the registry went from empty to populated, the first entry
// in lexicographic order becomes active.
func (e *Engine) loadSystemKBs(ctx context.Context) error {
	e.mu.Lock()
	if e.sysLoaded {
		e.mu.Unlock()
		return nil
	}
	wasEmpty := e.registry.Len() == 0
	e.mu.Unlock()

	dir := e.cfg.Paths.KBDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rkerrors.IOError("failed to create knowledge-base directory", err)
	}

	paths, err := discoverTextFiles(dir)
	if err != nil {
		return err
	}

	loaded := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return rkerrors.Cancelled(err)
		}

		name := kb.NameFromPath(path)

		e.mu.Lock()
		shadowed := e.registry.HasUser(name)
		e.mu.Unlock()
		if shadowed {
			e.logger.Debug("skipping system file shadowed by user knowledge base",
				slog.String("name", name),
				slog.String("path", path))
			continue
		}

		built, err := e.builder.Build(ctx, path, kb.OriginSystem)
		if err != nil {
			e.logger.Warn("failed to load system knowledge base",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}

		e.mu.Lock()
		e.registry.AddSystem(built)
		e.mu.Unlock()
		loaded++
	}

	e.mu.Lock()
	e.sysLoaded = true
	activated := false
	if wasEmpty && e.registry.Len() > 0 && e.registry.ActiveName() == "" {
		names := e.registry.Names()
		sort.Strings(names)
		_ = e.registry.SetActive(names[0])
		activated = true
	}
	snap := e.stateSnapshotLocked()
	e.mu.Unlock()

	if activated {
		e.persistState(snap)
	}

	e.logger.Info("system knowledge bases loaded",
		slog.String("dir", dir),
		slog.Int("count", loaded))
	e.bus.Publish(event.SystemKBsLoaded{Count: loaded})

	return nil
}

// SystemLoaded reports whether the one-shot system scan has completed.
func (e *Engine) SystemLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sysLoaded
}

// ReingestSystemFile builds the .txt file at path and publishes it as a
// system knowledge base, replacing any previous system entry of the
// same name. Files shadowed by a user knowledge base are ignored. Used
// by the directory watcher after the initial scan.
func (e *Engine) ReingestSystemFile(ctx context.Context, path string) error {
	name := kb.NameFromPath(path)

	e.mu.Lock()
	shadowed := e.registry.HasUser(name)
	e.mu.Unlock()
	if shadowed {
		return nil
	}

	built, err := e.builder.Build(ctx, path, kb.OriginSystem)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.registry.AddSystem(built)
	e.mu.Unlock()

	e.bus.Publish(event.KBAdded{
		Name:       built.Name,
		Path:       built.SourcePath,
		ChunkCount: built.ChunkCount(),
		Origin:     string(built.Origin),
	})
	return nil
}

// DropSystemKB removes the system entry for name, if any. User entries
// of the same name are untouched.
func (e *Engine) DropSystemKB(name string) bool {
	e.mu.Lock()
	_, removed := e.registry.RemoveSystem(name)
	var snap state.State
	if removed {
		snap = e.stateSnapshotLocked()
	}
	e.mu.Unlock()

	if removed {
		e.persistState(snap)
		e.bus.Publish(event.KBRemoved{Name: name})
	}
	return removed
}

// discoverTextFiles lists the .txt files directly inside dir, sorted by
// name. Subdirectories and other extensions are ignored; symlinks are
// followed.
func discoverTextFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, rkerrors.IOError("failed to scan knowledge-base directory", err)
	}

	var paths []string
	for _, entry := range entries {
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path) // follows symlinks
		if err != nil || info.IsDir() {
			continue
		}
		paths = append(paths, path)
	}

	sort.Strings(paths)
	return paths, nil
}
