// Package checkers holds the built-in, pluggable-by-type scheduler checkers
// (spec §4.5 "Checkers are pluggable by type tag").
package checkers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/fossclaw/fossclaw/internal/cron"
)

// HTTPConfig configures the generic HTTP-poll checker: it GETs url, expects a
// JSON array of items, and renders sessionNameTemplate/seedPromptTemplate against
// each item to produce one trigger per item.
type HTTPConfig struct {
	URL                string            `json:"url"`
	Headers            map[string]string `json:"headers,omitempty"`
	DedupeKeyField      string            `json:"dedupe_key_field"`
	SessionNameTemplate string            `json:"session_name_template"`
	SeedPromptTemplate  string            `json:"seed_prompt_template"`
	SummaryField        string            `json:"summary_field,omitempty"`
	Cwd                string            `json:"cwd,omitempty"`
	Timeout             int               `json:"timeout_seconds,omitempty"`
}

// HTTP is the generic external-tracker checker. It knows nothing about any
// particular tracker's schema beyond "a JSON array of flat objects"; per-tracker
// field names are supplied via config and rendered as text/template actions
// ({{.field}}, or {{.issue.identifier}} for a nested object),
// satisfying "a fixed set of placeholder tokens... per-type and part of the
// job-type contract" by making the template itself the contract.
type HTTP struct {
	Client *http.Client
}

// NewHTTP constructs an HTTP checker with a default client.
func NewHTTP() *HTTP {
	return &HTTP{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *HTTP) Check(ctx context.Context, raw json.RawMessage) ([]cron.Trigger, error) {
	var cfg HTTPConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode http checker config: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("http checker config missing url")
	}

	client := h.Client
	if cfg.Timeout > 0 {
		client = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("poll %s: status %d", cfg.URL, resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	nameTmpl, err := template.New("name").Parse(cfg.SessionNameTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse session name template: %w", err)
	}
	promptTmpl, err := template.New("prompt").Parse(cfg.SeedPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse seed prompt template: %w", err)
	}

	triggers := make([]cron.Trigger, 0, len(items))
	for _, item := range items {
		key, _ := item[cfg.DedupeKeyField].(string)
		if key == "" {
			continue
		}
		var nameBuf, promptBuf bytes.Buffer
		if err := nameTmpl.Execute(&nameBuf, item); err != nil {
			return nil, fmt.Errorf("render session name: %w", err)
		}
		if err := promptTmpl.Execute(&promptBuf, item); err != nil {
			return nil, fmt.Errorf("render seed prompt: %w", err)
		}
		summary := promptBuf.String()
		if cfg.SummaryField != "" {
			if s, ok := item[cfg.SummaryField].(string); ok {
				summary = s
			}
		}
		triggers = append(triggers, cron.Trigger{
			DedupeKey:   key,
			SessionName: nameBuf.String(),
			SeedPrompt:  promptBuf.String(),
			Cwd:         cfg.Cwd,
			Summary:     summary,
		})
	}
	return triggers, nil
}
