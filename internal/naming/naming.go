// Package naming implements the session-title helper: a best-effort POST to an
// optional local LLM endpoint, fired once per session on its first user turn
// (spec §4.1, §9).
package naming

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxPromptChars = 500

// Config points at the optional naming endpoint (spec §6.4 NAMING_URL/NAMING_MODEL).
type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Namer calls the configured endpoint to produce a short session title.
type Namer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New constructs a Namer. If cfg.URL is empty, Name always returns "" (naming is
// disabled, matching spec.md "optional").
func New(cfg Config, logger *slog.Logger) *Namer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "naming"),
	}
}

// Enabled reports whether a naming endpoint was configured.
func (n *Namer) Enabled() bool {
	return n.cfg.URL != ""
}

type namingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type namingResponse struct {
	Title string `json:"title"`
}

// Name asks the configured endpoint for a 3-5 word title derived from
// firstMessage. Any failure is logged and swallowed: a naming failure must never
// surface to the user (spec §9 "best-effort").
func (n *Namer) Name(sessionID, firstMessage string) string {
	if !n.Enabled() {
		return ""
	}
	prompt := firstMessage
	if len(prompt) > maxPromptChars {
		prompt = prompt[:maxPromptChars]
	}

	body, err := json.Marshal(namingRequest{Model: n.cfg.Model, Prompt: prompt})
	if err != nil {
		n.logger.Warn("encode naming request failed", "session_id", sessionID, "error", err)
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build naming request failed", "session_id", sessionID, "error", err)
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("naming request failed", "session_id", sessionID, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("naming request returned non-2xx", "session_id", sessionID, "status", resp.StatusCode)
		return ""
	}

	var out namingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		n.logger.Warn("decode naming response failed", "session_id", sessionID, "error", err)
		return ""
	}
	title := strings.TrimSpace(out.Title)
	if title == "" {
		n.logger.Warn("naming response had empty title", "session_id", sessionID)
	}
	return title
}
