// Package state persists engine settings across restarts.
//
// The state file is small JSON next to the knowledge-base directory. A
// missing or unreadable file is never an error: the engine falls back to
// defaults and logs a warning, so a corrupt file cannot brick startup.
// Writes go through a temp file and rename, guarded by a file lock
// against concurrent processes.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Mode selects how queries pick knowledge bases.
type Mode string

const (
	// ModeSingle queries only the active knowledge base.
	ModeSingle Mode = "single"
	// ModeMulti queries every registered knowledge base.
	ModeMulti Mode = "multi"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSingle || m == ModeMulti
}

// State is the persisted engine configuration.
type State struct {
	// Enabled gates all retrieval operations.
	Enabled bool `json:"enabled"`
	// Mode is the query mode, "single" or "multi".
	Mode Mode `json:"mode"`
	// ActiveName is the knowledge base used in single mode. May be empty.
	ActiveName string `json:"active_name"`
}

// Default returns the state used when no file exists: enabled, single
// mode, no active knowledge base.
func Default() State {
	return State{
		Enabled:    true,
		Mode:       ModeSingle,
		ActiveName: "",
	}
}

// Store reads and writes the state file.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// NewStore creates a store for the given state file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted state. A missing file returns defaults
// silently; an unreadable or malformed file returns defaults with a
// warning. Load never fails.
func (s *Store) Load() State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable, using defaults",
				slog.String("path", s.path),
				slog.String("error", err.Error()))
		}
		return Default()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("state file corrupt, using defaults",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return Default()
	}

	if !st.Mode.Valid() {
		s.logger.Warn("state file has unknown mode, using defaults",
			slog.String("path", s.path),
			slog.String("mode", string(st.Mode)))
		return Default()
	}

	return st
}

// Save writes the state atomically: marshal, write a temp file in the
// same directory, fsync, rename over the target. A cross-process file
// lock serializes writers.
func (s *Store) Save(st State) error {
	if !st.Mode.Valid() {
		return rkerrors.InvalidArgument(fmt.Sprintf("unknown mode %q", st.Mode))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to create state directory", err)
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to acquire state lock", err)
	}
	if !locked {
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "state file locked by another process", nil)
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to marshal state", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ragkb-state-*")
	if err != nil {
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to create temp state file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to write state", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to sync state", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to close temp state file", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return rkerrors.New(rkerrors.ErrCodeStatePersist, "failed to replace state file", err)
	}

	return nil
}
