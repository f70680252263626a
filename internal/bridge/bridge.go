package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fossclaw/fossclaw/internal/protocol"
)

// SessionMeta is the subset of Session state the store persists to meta.json.
type SessionMeta struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	CreatedAt      time.Time `json:"created_at"`
	Archived       bool      `json:"archived"`
	SessionName    string    `json:"session_name,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Persister is the session store's write-side, as seen by the bridge. All three
// methods are non-blocking enqueues (spec §4.4).
type Persister interface {
	SaveMeta(sessionID string, meta SessionMeta)
	SaveState(sessionID string, state State)
	SaveHistory(sessionID string, history []protocol.HistoryEntry)
	Remove(sessionID string)
}

type noopPersister struct{}

func (noopPersister) SaveMeta(string, SessionMeta)             {}
func (noopPersister) SaveState(string, State)                  {}
func (noopPersister) SaveHistory(string, []protocol.HistoryEntry) {}
func (noopPersister) Remove(string)                             {}

// NamingHook is invoked at most once per session, on the first user turn, with the
// rendered text of the first message, and returns the generated title (empty on
// failure). Errors are swallowed by the caller (spec §9).
type NamingHook func(sessionID, firstMessage string) string

// Bridge owns the SessionId → Session map and routes agent↔browser traffic.
type Bridge struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	persister  Persister
	onActivity func(sessionID string, lastActivity time.Time)
	naming     NamingHook
	logger     *slog.Logger
}

// New constructs a Bridge. persister and onActivity may be nil.
func New(persister Persister, onActivity func(sessionID string, lastActivity time.Time), naming NamingHook, logger *slog.Logger) *Bridge {
	if persister == nil {
		persister = noopPersister{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		sessions:   make(map[string]*Session),
		persister:  persister,
		onActivity: onActivity,
		naming:     naming,
		logger:     logger.With("component", "bridge"),
	}
}

// CreateSession creates and registers a new, empty session.
func (b *Bridge) CreateSession(id, provider string) *Session {
	s := NewSession(id, provider)
	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()
	b.persister.SaveMeta(id, sessionMetaOf(s))
	return s
}

// RestoreSession re-registers a session loaded from disk at startup, archived and
// without a live agent (spec §4.4: "the user resumes it explicitly").
func (b *Bridge) RestoreSession(id, provider string, meta SessionMeta, state State, history []protocol.HistoryEntry) *Session {
	s := NewSession(id, provider)
	s.CreatedAt = meta.CreatedAt
	s.sessionName = meta.SessionName
	s.lastActivityAt = meta.LastActivityAt
	s.archived = true
	s.state = state
	s.messageHistory = history

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()
	return s
}

// Get returns a session by id.
func (b *Bridge) Get(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// List returns every registered session.
func (b *Bridge) List() []*Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}

// Remove deletes a session from the map and tells the persister to drop its files.
func (b *Bridge) Remove(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
	b.persister.Remove(id)
}

// RenameSession sets a session's display name and persists the change (spec
// §6.2 PATCH /sessions/{id}/name).
func (b *Bridge) RenameSession(s *Session, name string) {
	s.SetSessionName(name)
	b.persister.SaveMeta(s.ID, sessionMetaOf(s))
}

func sessionMetaOf(s *Session) SessionMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionMeta{
		ID:             s.ID,
		Provider:       s.Provider,
		CreatedAt:      s.CreatedAt,
		Archived:       s.archived,
		SessionName:    s.sessionName,
		LastActivityAt: s.lastActivityAt,
	}
}

func (b *Bridge) persistAll(s *Session) {
	b.persister.SaveMeta(s.ID, sessionMetaOf(s))
	b.persister.SaveState(s.ID, s.StateSnapshot())
	b.persister.SaveHistory(s.ID, s.History())
}

func (b *Bridge) recordActivity(s *Session) {
	if b.onActivity != nil {
		b.onActivity(s.ID, s.LastActivity())
	}
}

// ---- Agent attach/detach (spec §4.1 "Agent attach"/"Agent detach") ----

// AttachAgent replaces any previous agent socket on the session (closing the old
// one), drains pendingMessages in FIFO order to the new agent, and notifies
// browsers with cli_connected.
func (b *Bridge) AttachAgent(s *Session, out Sink, closeFn func()) {
	s.mu.Lock()
	old := s.agent
	s.agent = &agentConn{out: out, closeFn: closeFn}
	pending := s.pendingMessages
	s.pendingMessages = nil
	s.archived = false
	s.mu.Unlock()

	if old != nil && old.closeFn != nil {
		old.closeFn()
	}

	for _, frame := range pending {
		out(frame)
	}

	b.broadcastBrowsers(s, protocol.OutCLIConnected, nil)
	b.persistAll(s)
}

// DetachAgent cancels every outstanding permission request, notifies browsers, and
// archives the session only when processExited is true (a transient socket close
// without process exit does not archive, per spec §4.1).
func (b *Bridge) DetachAgent(s *Session, processExited bool) {
	s.mu.Lock()
	s.agent = nil
	s.externalHandler = nil
	cancelled := make([]string, 0, len(s.pendingPermissions))
	for id := range s.pendingPermissions {
		cancelled = append(cancelled, id)
	}
	s.pendingPermissions = make(map[string]protocol.ControlRequest)
	if processExited {
		s.archived = true
	}
	s.mu.Unlock()

	for _, id := range cancelled {
		b.broadcastBrowsers(s, protocol.OutPermissionCancel, map[string]string{"request_id": id})
	}
	b.broadcastBrowsers(s, protocol.OutCLIDisconnected, nil)

	if processExited {
		assistantErr := protocol.MessageFrame{Content: []protocol.ContentBlock{{
			Type: "text",
			Text: "The agent process exited; this session is now archived.",
		}}}
		b.broadcastBrowsers(s, protocol.AgentAssistant, assistantErr)
	}
	b.persistAll(s)
}

// RegisterExternalHandler wires an adapter in place of a real agent socket: inbound
// browser messages are delivered to fn instead of agent-socket framing.
func (b *Bridge) RegisterExternalHandler(s *Session, fn func(frame []byte) error) {
	s.mu.Lock()
	s.externalHandler = fn
	s.archived = false
	s.mu.Unlock()
	b.broadcastBrowsers(s, protocol.OutCLIConnected, nil)
	b.persistAll(s)
}

// ---- Browser attach/detach (spec §4.1 "Browser attach") ----

// AttachBrowser runs the 5-step browser-attach sequence; DetachBrowser undoes the
// registration.
func (b *Bridge) AttachBrowser(s *Session, connID string, out Sink, closeFn func()) {
	s.mu.Lock()
	s.browsers[connID] = &browserConn{out: out, closeFn: closeFn}
	hasAgent := s.agent != nil || s.externalHandler != nil
	history := append([]protocol.HistoryEntry(nil), s.messageHistory...)
	perms := make([]protocol.ControlRequest, 0, len(s.pendingPermissions))
	for _, p := range s.pendingPermissions {
		perms = append(perms, p)
	}
	s.mu.Unlock()

	out(envelopeBytes(s.ID, protocol.OutSessionInit, s.snapshotInit()))
	if hasAgent {
		out(envelopeBytes(s.ID, protocol.OutCLIConnected, nil))
	} else {
		out(envelopeBytes(s.ID, protocol.OutCLIDisconnected, nil))
	}
	out(envelopeBytes(s.ID, protocol.OutMessageHistory, protocol.MessageHistory{Messages: history}))
	for _, p := range perms {
		out(envelopeBytes(s.ID, protocol.OutPermissionRequest, p))
	}
}

// DetachBrowser removes one browser connection. It has no effect on
// pendingPermissions (testable property 3).
func (b *Bridge) DetachBrowser(s *Session, connID string) {
	s.mu.Lock()
	delete(s.browsers, connID)
	s.mu.Unlock()
}

func (b *Bridge) broadcastBrowsers(s *Session, typ string, payload any) {
	frame := envelopeBytes(s.ID, typ, payload)
	s.mu.Lock()
	sinks := make([]Sink, 0, len(s.browsers))
	for _, c := range s.browsers {
		sinks = append(sinks, c.out)
	}
	s.mu.Unlock()
	for _, out := range sinks {
		out(frame)
	}
}

func envelopeBytes(sessionID, typ string, payload any) []byte {
	env := struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Payload   any    `json:"payload,omitempty"`
	}{Type: typ, SessionID: sessionID, Payload: payload}
	return mustMarshal(env)
}

// ---- Inbound from agent (spec §4.1 translation table) ----

// HandleAgentFrame applies one agent-originated frame to the session per the
// translation table, persists where called for, and fans out to browsers. It is
// also the entry point adapters use to inject synthetic agent frames
// (spec §4.1 "registerExternalHandler" / injectToBrowsers).
func (b *Bridge) HandleAgentFrame(s *Session, env protocol.Envelope) error {
	switch env.Type {
	case protocol.AgentSystemInit:
		var in protocol.SystemInit
		if err := json.Unmarshal(env.Payload, &in); err != nil {
			return fmt.Errorf("decode system/init: %w", err)
		}
		s.mu.Lock()
		s.state.merge(in)
		s.mu.Unlock()
		b.broadcastBrowsers(s, protocol.OutSessionInit, s.snapshotInit())

	case protocol.AgentSystemStatus:
		var st protocol.SystemStatus
		if err := json.Unmarshal(env.Payload, &st); err != nil {
			return fmt.Errorf("decode system/status: %w", err)
		}
		s.mu.Lock()
		s.state.Status = st.Status
		s.mu.Unlock()
		b.broadcastBrowsers(s, protocol.OutStatusChange, st)

	case protocol.AgentAssistant:
		var m protocol.MessageFrame
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return fmt.Errorf("decode assistant: %w", err)
		}
		s.mu.Lock()
		s.messageHistory = append(s.messageHistory, marshalHistoryEntry("assistant", m.Content))
		s.touch()
		s.mu.Unlock()
		b.broadcastBrowsers(s, protocol.AgentAssistant, m)
		b.persister.SaveHistory(s.ID, s.History())
		b.recordActivity(s)

	case protocol.AgentUser:
		var m protocol.MessageFrame
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return fmt.Errorf("decode user echo: %w", err)
		}
		s.mu.Lock()
		s.messageHistory = append(s.messageHistory, marshalHistoryEntry("user", m.Content))
		s.touch()
		s.mu.Unlock()
		b.broadcastBrowsers(s, protocol.AgentUser, m)
		b.persister.SaveHistory(s.ID, s.History())
		b.recordActivity(s)

	case protocol.AgentResult:
		var r protocol.Result
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		s.mu.Lock()
		s.state.mergeResult(r)
		s.messageHistory = append(s.messageHistory, marshalHistoryEntry("result", nil))
		s.touch()
		// Clear pending permissions older than this turn: result marks turn end.
		cleared := make([]string, 0, len(s.pendingPermissions))
		for id := range s.pendingPermissions {
			cleared = append(cleared, id)
		}
		s.pendingPermissions = make(map[string]protocol.ControlRequest)
		s.mu.Unlock()
		for _, id := range cleared {
			b.broadcastBrowsers(s, protocol.OutPermissionCancel, map[string]string{"request_id": id})
		}
		b.broadcastBrowsers(s, protocol.AgentResult, r)
		b.persistAll(s)
		b.recordActivity(s)

	case protocol.AgentStreamEvent, protocol.AgentToolProgress:
		// Forwarded, never recorded in history.
		var payload any = json.RawMessage(env.Payload)
		b.broadcastBrowsers(s, env.Type, payload)

	case protocol.AgentControlRequest:
		var cr protocol.ControlRequest
		if err := json.Unmarshal(env.Payload, &cr); err != nil {
			return fmt.Errorf("decode control_request: %w", err)
		}
		s.mu.Lock()
		s.pendingPermissions[cr.RequestID] = cr
		s.mu.Unlock()
		b.broadcastBrowsers(s, protocol.OutPermissionRequest, cr)

	default:
		// Unknown agent tag: forward verbatim to tolerate protocol growth.
		var payload any = json.RawMessage(env.Payload)
		b.broadcastBrowsers(s, env.Type, payload)
	}
	return nil
}

// maybeName fires the naming hook on the session's first user turn (spec §4.1),
// using the user's own message text, and applies the resulting title once the
// hook returns.
func (b *Bridge) maybeName(s *Session, um protocol.UserMessage) {
	if b.naming == nil {
		return
	}
	s.mu.Lock()
	already := s.sessionName != ""
	turnCount := 0
	for _, h := range s.messageHistory {
		if h.Type == "user_message" {
			turnCount++
		}
	}
	s.mu.Unlock()
	if already || turnCount != 1 {
		return
	}
	var text string
	for _, block := range um.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return
	}
	go func() {
		title := b.naming(s.ID, text)
		if title == "" {
			return
		}
		b.RenameSession(s, title)
	}()
}

// ---- Inbound from browser (spec §4.1 translation table) ----

// HandleBrowserFrame applies one browser-originated frame to the session. connID
// identifies the initiating browser, used only to target error frames.
func (b *Bridge) HandleBrowserFrame(s *Session, connID string, env protocol.Envelope) error {
	switch env.Type {
	case protocol.BrowserUserMessage:
		var um protocol.UserMessage
		if err := json.Unmarshal(env.Payload, &um); err != nil {
			return fmt.Errorf("decode user_message: %w", err)
		}
		um.Content = appendToolResultSources(um.Content)

		s.mu.Lock()
		s.messageHistory = append(s.messageHistory, marshalHistoryEntry("user_message", um.Content))
		s.touch()
		archived := s.archived
		hasAgent := s.agent != nil
		ext := s.externalHandler
		s.mu.Unlock()

		b.persister.SaveHistory(s.ID, s.History())
		b.recordActivity(s)
		b.maybeName(s, um)

		if archived {
			b.notifyErrorTo(s, connID, "session is archived; cannot accept new messages")
			return nil
		}

		frame, err := protocol.EncodeLine(struct {
			Type    string                `json:"type"`
			Message protocol.UserMessage  `json:"message"`
		}{Type: protocol.AgentUser, Message: um})
		if err != nil {
			return err
		}

		switch {
		case ext != nil:
			if err := ext(frame); err != nil {
				b.notifyErrorTo(s, connID, err.Error())
			}
		case hasAgent:
			s.mu.Lock()
			agent := s.agent
			s.mu.Unlock()
			if agent != nil {
				agent.out(frame)
			}
		default:
			s.mu.Lock()
			s.pendingMessages = append(s.pendingMessages, frame)
			s.mu.Unlock()
		}

	case protocol.BrowserPermissionResp:
		var pr protocol.PermissionResponse
		if err := json.Unmarshal(env.Payload, &pr); err != nil {
			return fmt.Errorf("decode permission_response: %w", err)
		}
		s.mu.Lock()
		_, existed := s.pendingPermissions[pr.RequestID]
		delete(s.pendingPermissions, pr.RequestID)
		ext := s.externalHandler
		agent := s.agent
		s.mu.Unlock()
		if !existed {
			return nil
		}
		frame, err := protocol.EncodeLine(struct {
			Type     string `json:"type"`
			Response protocol.PermissionResponse `json:"response"`
		}{Type: "control_response", Response: pr})
		if err != nil {
			return err
		}
		if ext != nil {
			return ext(frame)
		}
		if agent != nil {
			agent.out(frame)
		}

	case protocol.BrowserInterrupt:
		return b.sendControl(s, "control_request", map[string]string{"action": "interrupt"})

	case protocol.BrowserSetModel:
		var body struct {
			Model string `json:"model"`
		}
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return fmt.Errorf("decode set_model: %w", err)
		}
		return b.sendControl(s, "control_request", map[string]string{"action": "set_model", "model": body.Model})

	default:
		return fmt.Errorf("unknown browser frame type %q", env.Type)
	}
	return nil
}

func (b *Bridge) sendControl(s *Session, typ string, payload any) error {
	frame, err := protocol.EncodeLine(struct {
		Type    string `json:"type"`
		Control any    `json:"control"`
	}{Type: typ, Control: payload})
	if err != nil {
		return err
	}
	s.mu.Lock()
	ext := s.externalHandler
	agent := s.agent
	s.mu.Unlock()
	if ext != nil {
		return ext(frame)
	}
	if agent != nil {
		agent.out(frame)
	}
	return nil
}

// SeedMessage records text as a user_message history entry and routes it to the
// session's agent (or the pending queue if none is attached yet), exactly as if a
// browser had sent it. Used by the scheduler to seed a freshly-spawned session
// with a trigger's prompt (spec §4.5 step 4).
func (b *Bridge) SeedMessage(s *Session, text string) error {
	payload, err := json.Marshal(protocol.UserMessage{Content: []protocol.ContentBlock{{Type: "text", Text: text}}})
	if err != nil {
		return err
	}
	return b.HandleBrowserFrame(s, "", protocol.Envelope{Type: protocol.BrowserUserMessage, Payload: payload})
}

func (b *Bridge) notifyErrorTo(s *Session, connID string, msg string) {
	s.mu.Lock()
	conn, ok := s.browsers[connID]
	s.mu.Unlock()
	if !ok {
		return
	}
	conn.out(envelopeBytes(s.ID, protocol.OutError, map[string]string{"error": msg}))
}
