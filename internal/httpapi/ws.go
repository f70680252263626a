package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := s.bridge.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.launcher.MarkConnected(sessionID)
	s.bridge.ServeAgentSocket(w, r, sess, s.logger)
}

func (s *Server) handleBrowserSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := s.bridge.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.bridge.ServeBrowserSocket(w, r, sess, uuid.NewString(), s.logger)
}
