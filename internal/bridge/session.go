// Package bridge implements the per-session state machine that links an agent
// socket, a set of browser sockets, a conversation history, a permission arbiter,
// and a pending-message queue.
package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fossclaw/fossclaw/internal/protocol"
)

// State is the bridge's running snapshot of agent-reported facts, merged by
// overwriting only present keys — never by full replacement — so that one frame
// never silently drops fields another frame already set.
type State struct {
	Model          string
	Cwd            string
	Tools          []string
	PermissionMode string
	Version        string
	CostUSD        float64
	TurnCount      int
	ContextPercent float64
	Compacting     bool
	Status         string
}

func (s *State) merge(in protocol.SystemInit) {
	if in.Model != nil {
		s.Model = *in.Model
	}
	if in.Cwd != nil {
		s.Cwd = *in.Cwd
	}
	if in.Tools != nil {
		s.Tools = in.Tools
	}
	if in.PermissionMode != nil {
		s.PermissionMode = *in.PermissionMode
	}
	if in.Version != nil {
		s.Version = *in.Version
	}
	if in.CostUSD != nil {
		s.CostUSD = *in.CostUSD
	}
	if in.TurnCount != nil {
		s.TurnCount = *in.TurnCount
	}
	if in.ContextPercent != nil {
		s.ContextPercent = *in.ContextPercent
	}
}

func (s *State) mergeResult(r protocol.Result) {
	if r.CostUSD != nil {
		s.CostUSD = *r.CostUSD
	}
	if r.TurnCount != nil {
		s.TurnCount = *r.TurnCount
	}
	if r.ContextPercent != nil {
		s.ContextPercent = *r.ContextPercent
	}
	s.Compacting = r.Compacted
}

// Sink delivers one already-encoded frame to a socket's write pump. Sinks never
// block the session lock: they enqueue onto a buffered channel owned by the
// connection's own write goroutine.
type Sink func(frame []byte)

// agentConn is the at-most-one agent attachment for a session.
type agentConn struct {
	out     Sink
	closeFn func()
}

// browserConn is one of zero-or-more browser attachments for a session.
type browserConn struct {
	out     Sink
	closeFn func()
}

// Session is the bridge's per-session record (spec §3 "Session").
type Session struct {
	ID        string
	Provider  string // native | sse-adapter | rpc-adapter
	CreatedAt time.Time

	mu sync.Mutex

	state    State
	browsers map[string]*browserConn
	agent    *agentConn

	messageHistory     []protocol.HistoryEntry
	pendingMessages    [][]byte
	pendingPermissions map[string]protocol.ControlRequest

	archived        bool
	sessionName     string
	lastActivityAt  time.Time
	externalHandler func(frame []byte) error // set by an adapter via RegisterExternalHandler
}

// NewSession constructs an empty session scaffolded with the given id.
func NewSession(id, provider string) *Session {
	return &Session{
		ID:                 id,
		Provider:           provider,
		CreatedAt:          time.Now(),
		browsers:           make(map[string]*browserConn),
		pendingPermissions: make(map[string]protocol.ControlRequest),
		lastActivityAt:     time.Now(),
	}
}

// NewSessionID returns a lowercase-hex-with-dashes SessionId (spec §3).
func NewSessionID() string {
	return uuid.NewString()
}

// snapshotInit renders the current state as a session_init payload.
func (s *Session) snapshotInit() protocol.SessionInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.SessionInit{
		SessionID:      s.ID,
		Model:          s.state.Model,
		Cwd:            s.state.Cwd,
		Tools:          s.state.Tools,
		PermissionMode: s.state.PermissionMode,
		Archived:       s.archived,
	}
}

// HasAgent reports whether an agent socket (or adapter) is currently attached.
func (s *Session) HasAgent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent != nil || s.externalHandler != nil
}

// Archived reports whether the session is read-only (agent process exited).
func (s *Session) Archived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archived
}

// SessionName returns the current display name, if any.
func (s *Session) SessionName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionName
}

// SetSessionName sets the display name.
func (s *Session) SetSessionName(name string) {
	s.mu.Lock()
	s.sessionName = name
	s.mu.Unlock()
}

// History returns a copy of the current history (for store snapshots / replay).
func (s *Session) History() []protocol.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.HistoryEntry, len(s.messageHistory))
	copy(out, s.messageHistory)
	return out
}

// StateSnapshot returns a copy of the current merged state.
func (s *Session) StateSnapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the last-activity-at timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// PendingPermissionCount returns |pendingPermissions| (testable property 3 & 5).
func (s *Session) PendingPermissionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingPermissions)
}

func (s *Session) touch() {
	s.lastActivityAt = time.Now()
}

func appendToolResultSources(blocks []protocol.ContentBlock) []protocol.ContentBlock {
	// Images first, then text, per spec §4.1 "reordered so images precede text".
	var images, rest []protocol.ContentBlock
	for _, b := range blocks {
		if len(b.Source) > 0 {
			images = append(images, b)
		} else {
			rest = append(rest, b)
		}
	}
	return append(images, rest...)
}

func marshalHistoryEntry(kind string, content []protocol.ContentBlock) protocol.HistoryEntry {
	return protocol.HistoryEntry{
		ID:        uuid.NewString(),
		Type:      kind,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // programmer error: all payload types here are always marshalable
	}
	return b
}
