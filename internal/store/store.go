// Package store implements the session store: crash-safe, debounced, atomic
// per-session JSON persistence (spec §4.4).
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/protocol"
)

const (
	metaDebounce    = 500 * time.Millisecond
	stateDebounce   = 500 * time.Millisecond
	historyDebounce = 1000 * time.Millisecond
)

// Store persists session meta/state/history under base/sessions/{id}/{file}.json.
type Store struct {
	base   string
	logger *slog.Logger
	deb    *Debouncer // key = sessionID + ":" + kind
}

// New constructs a Store rooted at base, creating the sessions directory.
func New(base string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(base, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{
		base:   base,
		logger: logger.With("component", "store"),
		deb:    NewDebouncer(),
	}, nil
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.base, "sessions", id)
}

// atomicWriteJSON writes v to path via a temp file + rename (spec §4.4, testable
// property 8: no reader ever observes a partial-content file).
func atomicWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveMeta enqueues a debounced write of meta.json.
func (s *Store) SaveMeta(sessionID string, meta bridge.SessionMeta) {
	path := filepath.Join(s.sessionDir(sessionID), "meta.json")
	s.deb.Enqueue(sessionID+":meta", metaDebounce, func() {
		if err := atomicWriteJSON(path, meta); err != nil {
			s.logger.Warn("write meta failed, will retry on next flush", "session_id", sessionID, "error", err)
		}
	})
}

// SaveState enqueues a debounced write of state.json.
func (s *Store) SaveState(sessionID string, state bridge.State) {
	path := filepath.Join(s.sessionDir(sessionID), "state.json")
	s.deb.Enqueue(sessionID+":state", stateDebounce, func() {
		if err := atomicWriteJSON(path, state); err != nil {
			s.logger.Warn("write state failed, will retry on next flush", "session_id", sessionID, "error", err)
		}
	})
}

// SaveHistory enqueues a debounced write of history.json.
func (s *Store) SaveHistory(sessionID string, history []protocol.HistoryEntry) {
	path := filepath.Join(s.sessionDir(sessionID), "history.json")
	s.deb.Enqueue(sessionID+":history", historyDebounce, func() {
		if err := atomicWriteJSON(path, history); err != nil {
			s.logger.Warn("write history failed, will retry on next flush", "session_id", sessionID, "error", err)
		}
	})
}

// Remove cancels pending writes and best-effort deletes the session's subdirectory.
func (s *Store) Remove(sessionID string) {
	for _, kind := range []string{"meta", "state", "history"} {
		s.deb.Cancel(sessionID + ":" + kind)
	}
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		s.logger.Warn("remove session directory failed", "session_id", sessionID, "error", err)
	}
}

// Flush forces every pending debounced write to run immediately.
func (s *Store) Flush() {
	s.deb.Flush()
}

// Loaded is one session's on-disk record, as returned by LoadAll.
type Loaded struct {
	ID      string
	Meta    bridge.SessionMeta
	State   bridge.State
	History []protocol.HistoryEntry
}

// Load reads all three files for one session. A missing state.json or history.json
// is tolerated and reconstructed from defaults (spec §4.4).
func (s *Store) Load(sessionID string) (Loaded, error) {
	dir := s.sessionDir(sessionID)
	var out Loaded
	out.ID = sessionID

	metaBytes, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return out, fmt.Errorf("read meta: %w", err)
	}
	if err := json.Unmarshal(metaBytes, &out.Meta); err != nil {
		return out, fmt.Errorf("parse meta: %w", err)
	}

	if stateBytes, err := os.ReadFile(filepath.Join(dir, "state.json")); err == nil {
		_ = json.Unmarshal(stateBytes, &out.State)
	}
	if histBytes, err := os.ReadFile(filepath.Join(dir, "history.json")); err == nil {
		_ = json.Unmarshal(histBytes, &out.History)
	}
	return out, nil
}

// LoadAll enumerates the base directory and returns every session for which at
// least meta.json is readable. A corrupt file for one session is logged and
// skipped; it never prevents loading the rest (spec §4.4 "Failure model").
func (s *Store) LoadAll() []Loaded {
	root := filepath.Join(s.base, "sessions")
	entries, err := os.ReadDir(root)
	if err != nil {
		s.logger.Warn("list sessions dir failed", "error", err)
		return nil
	}

	var out []Loaded
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		loaded, err := s.Load(e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable session", "session_id", e.Name(), "error", err)
			continue
		}
		out = append(out, loaded)
	}
	return out
}
