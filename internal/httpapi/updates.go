package httpapi

import "net/http"

func (s *Server) handleUpdatesCheck(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		writeError(w, http.StatusNotImplemented, "update checker not configured")
		return
	}
	latest, url, available, err := s.updates.Check()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := map[string]any{
		"currentVersion":  s.cfg.Version,
		"latestVersion":   latest,
		"updateAvailable": available,
	}
	if url != "" {
		resp["downloadUrl"] = url
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdatesInstall(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		writeError(w, http.StatusNotImplemented, "update checker not configured")
		return
	}
	go func() {
		if err := s.updates.Install(); err != nil {
			s.logger.Warn("update install failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "update started"})
}
