// Package engine is the retrieval engine facade: knowledge-base
// lifecycle, persisted settings, and query execution.
//
// One mutex serializes all registry and settings access. Nothing slow
// happens under it: file reads, embedder calls, and state persistence
// run with the mutex released, and their results are committed in a
// short critical section (prepare-then-commit).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/ragkb/internal/config"
	"github.com/Aman-CERP/ragkb/internal/embed"
	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/event"
	"github.com/Aman-CERP/ragkb/internal/kb"
	"github.com/Aman-CERP/ragkb/internal/state"
)

// Engine owns the registry, the persisted settings, and the event bus.
type Engine struct {
	cfg      *config.Config
	builder  *kb.Builder
	embedder embed.Embedder
	store    *state.Store
	bus      *event.Bus
	logger   *slog.Logger

	mu        sync.Mutex
	registry  *kb.Registry
	enabled   bool
	mode      state.Mode
	sysLoaded bool
	loadGroup singleflight.Group
}

// Status is the engine's observable state.
type Status struct {
	Enabled      bool
	Mode         state.Mode
	ActiveName   string
	LoadedNames  []string
	TotalChunks  int
	ChunkSize    int
	ChunkOverlap int
}

// AddResult reports a completed ingestion.
type AddResult struct {
	Name       string
	ChunkCount int
}

// New creates an engine, applying the persisted state from the store.
// An engine.state_loaded event is published with what was applied.
func New(cfg *config.Config, builder *kb.Builder, embedder embed.Embedder, store *state.Store, bus *event.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	st := store.Load()
	e := &Engine{
		cfg:      cfg,
		builder:  builder,
		embedder: embedder,
		store:    store,
		bus:      bus,
		logger:   logger,
		registry: kb.NewRegistry(),
		enabled:  st.Enabled,
		mode:     st.Mode,
	}
	e.registry.RestoreActive(st.ActiveName)

	bus.Publish(event.StateLoaded{
		Enabled:    st.Enabled,
		Mode:       string(st.Mode),
		ActiveName: st.ActiveName,
	})

	return e
}

// Start performs deferred startup work: when the persisted state says
// retrieval is enabled in multi mode, the system scan runs now so the
// first query does not pay for it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	need := e.enabled && e.mode == state.ModeMulti && !e.sysLoaded
	e.mu.Unlock()

	if !need {
		return nil
	}
	return e.ensureSystemLoad(ctx)
}

// ListKBs returns the merged registry view in listing order.
func (e *Engine) ListKBs() []kb.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.List()
}

// AddKB ingests the file at path as a user knowledge base. The build
// runs outside the engine mutex; the finished knowledge base is
// committed in a short critical section, so concurrent adds race only
// on the commit and the first one wins. Adding to an empty registry
// activates the new knowledge base.
func (e *Engine) AddKB(ctx context.Context, path string) (AddResult, error) {
	name := kb.NameFromPath(path)
	if name == "" {
		return AddResult{}, rkerrors.InvalidArgument("path has no usable file name")
	}

	e.mu.Lock()
	if e.registry.HasUser(name) {
		e.mu.Unlock()
		return AddResult{}, rkerrors.AlreadyExists(name)
	}
	e.mu.Unlock()

	built, err := e.builder.Build(ctx, path, kb.OriginUser)
	if err != nil {
		return AddResult{}, err
	}

	e.mu.Lock()
	wasEmpty := e.registry.Len() == 0
	if err := e.registry.AddUser(built); err != nil {
		e.mu.Unlock()
		return AddResult{}, err
	}
	activated := false
	if wasEmpty {
		_ = e.registry.SetActive(name)
		activated = true
	}
	snap := e.stateSnapshotLocked()
	e.mu.Unlock()

	if activated {
		e.persistState(snap)
	}

	e.bus.Publish(event.KBAdded{
		Name:       built.Name,
		Path:       built.SourcePath,
		ChunkCount: built.ChunkCount(),
		Origin:     string(built.Origin),
	})

	return AddResult{Name: built.Name, ChunkCount: built.ChunkCount()}, nil
}

// RemoveKB drops the knowledge base the merged view resolves for name.
// System entries are removable only when the configuration allows it;
// a later directory re-scan may restore them.
func (e *Engine) RemoveKB(name string) error {
	e.mu.Lock()
	existing, ok := e.registry.Get(name)
	if !ok {
		e.mu.Unlock()
		return rkerrors.NotFound(name)
	}
	if existing.Origin == kb.OriginSystem && !e.cfg.Registry.AllowSystemRemove {
		e.mu.Unlock()
		return rkerrors.InvalidArgument(
			fmt.Sprintf("removing system knowledge base %q is disabled by configuration", name))
	}

	wasActive := e.registry.ActiveName() == name
	if _, err := e.registry.Remove(name); err != nil {
		e.mu.Unlock()
		return err
	}
	snap := e.stateSnapshotLocked()
	e.mu.Unlock()

	if wasActive {
		e.persistState(snap)
	}

	e.bus.Publish(event.KBRemoved{Name: name})
	return nil
}

// SwitchKB marks name as the active knowledge base and persists it.
func (e *Engine) SwitchKB(name string) error {
	e.mu.Lock()
	if err := e.registry.SetActive(name); err != nil {
		e.mu.Unlock()
		return err
	}
	target, _ := e.registry.Get(name)
	snap := e.stateSnapshotLocked()
	e.mu.Unlock()

	e.persistState(snap)
	e.bus.Publish(event.KBSwitched{Name: name, Path: target.SourcePath})
	return nil
}

// SetEnabled flips the retrieval gate. Enabling while the mode is multi
// triggers the system scan if it has not run yet; the call returns only
// after that scan completes.
func (e *Engine) SetEnabled(ctx context.Context, enabled bool) error {
	e.mu.Lock()
	old := e.enabled
	e.enabled = enabled
	needLoad := enabled && !old && e.mode == state.ModeMulti && !e.sysLoaded
	snap := e.stateSnapshotLocked()
	e.mu.Unlock()

	e.persistState(snap)
	if old != enabled {
		e.bus.Publish(event.EnabledChanged{Old: old, New: enabled})
	}

	if needLoad {
		return e.ensureSystemLoad(ctx)
	}
	return nil
}

// SetMode switches between single and multi query modes. Entering multi
// mode while enabled triggers the system scan if it has not run yet;
// the call returns only after that scan completes. A disabled engine
// defers the scan until it is enabled.
func (e *Engine) SetMode(ctx context.Context, mode state.Mode) error {
	if !mode.Valid() {
		return rkerrors.InvalidArgument(fmt.Sprintf("unknown mode %q", mode))
	}

	e.mu.Lock()
	old := e.mode
	e.mode = mode
	needLoad := mode == state.ModeMulti && e.enabled && !e.sysLoaded
	snap := e.stateSnapshotLocked()
	e.mu.Unlock()

	e.persistState(snap)
	if old != mode {
		e.bus.Publish(event.ModeChanged{Old: string(old), New: string(mode)})
	}

	if needLoad {
		return e.ensureSystemLoad(ctx)
	}
	return nil
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		Enabled:      e.enabled,
		Mode:         e.mode,
		ActiveName:   e.registry.ActiveName(),
		LoadedNames:  e.registry.Names(),
		TotalChunks:  e.registry.TotalChunks(),
		ChunkSize:    e.cfg.Chunking.ChunkSize,
		ChunkOverlap: e.cfg.Chunking.ChunkOverlap,
	}
}

// stateSnapshotLocked captures the persistable state. Callers hold the
// engine mutex.
func (e *Engine) stateSnapshotLocked() state.State {
	return state.State{
		Enabled:    e.enabled,
		Mode:       e.mode,
		ActiveName: e.registry.ActiveName(),
	}
}

// persistState saves a snapshot outside the critical section. Failures
// are logged, not surfaced: a read-only disk should not take down
// retrieval.
func (e *Engine) persistState(snap state.State) {
	if err := e.store.Save(snap); err != nil {
		e.logger.Warn("failed to persist engine state",
			slog.String("path", e.store.Path()),
			slog.String("error", err.Error()))
	}
}
