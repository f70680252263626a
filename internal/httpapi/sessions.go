package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fossclaw/fossclaw/internal/adapter/rpc"
	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/launcher"
)

// sessionRecord is the wire shape for GET /sessions and GET /sessions/{id}
// (spec §6.2).
type sessionRecord struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	State       string    `json:"state"`
	Cwd         string    `json:"cwd"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"createdAt"`
	SessionName string    `json:"sessionName,omitempty"`
	Archived    bool      `json:"archived"`
}

func recordOf(s *bridge.Session) sessionRecord {
	st := s.StateSnapshot()
	state := st.Status
	if state == "" {
		if s.Archived() {
			state = "archived"
		} else if s.HasAgent() {
			state = "running"
		} else {
			state = "starting"
		}
	}
	return sessionRecord{
		ID:          s.ID,
		Provider:    s.Provider,
		State:       state,
		Cwd:         st.Cwd,
		Model:       st.Model,
		CreatedAt:   s.CreatedAt,
		SessionName: s.SessionName(),
		Archived:    s.Archived(),
	}
}

type createSessionRequest struct {
	Model           string `json:"model"`
	PermissionMode  string `json:"permissionMode"`
	Cwd             string `json:"cwd"`
	Provider        string `json:"provider"`
	ResumeSessionID string `json:"resumeSessionId"`
	SessionName     string `json:"sessionName"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	switch req.Provider {
	case "sse-adapter":
		s.handleCreateSSESession(ctx, w)
		return
	case "rpc-adapter":
		s.handleCreateRPCSession(ctx, w)
		return
	}

	opts := launcher.CreateOptions{
		Model:          req.Model,
		PermissionMode: req.PermissionMode,
		Cwd:            req.Cwd,
		SessionName:    req.SessionName,
	}

	var sessionID string
	var err error
	if req.ResumeSessionID != "" {
		sessionID, err = s.launcher.Resume(ctx, req.ResumeSessionID, opts)
	} else {
		sessionID, err = s.launcher.Create(ctx, opts)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "provider": "native"})
}

// handleCreateSSESession creates a session against the shared sse-adapter
// upstream (spec §4.3.1). The upstream session isn't spawned by the launcher —
// there is no child process — so the bridge session is created directly and the
// adapter registers itself as the agent side via RegisterExternalHandler.
func (s *Server) handleCreateSSESession(ctx context.Context, w http.ResponseWriter) {
	if s.sseAdapter == nil {
		writeError(w, http.StatusNotImplemented, "sse-adapter provider not configured")
		return
	}
	id := uuid.NewString()
	sess := s.bridge.CreateSession(id, "sse-adapter")
	if err := s.sseAdapter.CreateSession(ctx, sess); err != nil {
		s.bridge.Remove(id)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "provider": "sse-adapter"})
}

// handleCreateRPCSession creates a session against a fresh rpc-adapter upstream
// connection (spec §4.3.2): unlike the SSE adapter, each session gets its own
// duplex socket, so an Adapter instance is created per session here.
func (s *Server) handleCreateRPCSession(ctx context.Context, w http.ResponseWriter) {
	if s.cfg.RPCAdapterURL == "" {
		writeError(w, http.StatusNotImplemented, "rpc-adapter provider not configured")
		return
	}
	id := uuid.NewString()
	sess := s.bridge.CreateSession(id, "rpc-adapter")

	adapter := rpc.New(rpc.Config{Dial: dialRPC(s.cfg.RPCAdapterURL)}, s.bridge, sess, s.logger)
	if err := adapter.Start(ctx); err != nil {
		s.bridge.Remove(id)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.rpcAdapters.put(id, adapter)
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "provider": "rpc-adapter"})
}

// handleListSessions returns every tracked session, optionally narrowed by
// ?archived=true|false and/or ?provider=... (SPEC_FULL.md §12 listing filters).
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	provider := query.Get("provider")

	var archivedFilter *bool
	if raw := query.Get("archived"); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "archived must be true or false")
			return
		}
		archivedFilter = &want
	}

	sessions := s.bridge.List()
	out := make([]sessionRecord, 0, len(sessions))
	for _, sess := range sessions {
		rec := recordOf(sess)
		if archivedFilter != nil && rec.Archived != *archivedFilter {
			continue
		}
		if provider != "" && rec.Provider != provider {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.bridge.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, recordOf(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.bridge.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	_ = s.launcher.Kill(id)
	s.launcher.RemoveSession(id)
	s.rpcAdapters.remove(id)
	s.bridge.Remove(id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.bridge.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.launcher.Kill(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	newID, err := s.launcher.Resume(ctx, id, launcher.CreateOptions{})
	if err != nil {
		if _, ok := s.bridge.Get(id); !ok {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": newID})
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.bridge.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.bridge.RenameSession(sess, body.Name)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessionName": body.Name})
}
