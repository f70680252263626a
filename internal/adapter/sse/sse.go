// Package sse implements the request/response-plus-server-sent-events adapter
// (spec §4.3.1): it makes an external HTTP agent server look to the bridge like a
// native agent socket.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/protocol"
)

// Config configures one adapter instance.
type Config struct {
	BaseURL                 string // e.g. "http://127.0.0.1:4556"
	HealthCheckPath         string // default "/health"
	EventsPath              string // default "/events"
	CreateSessionPath       string // default "/sessions"
	SendMessagePathFmt      string // default "/sessions/%s/messages"
	PermissionReplyPathFmt  string // default "/sessions/%s/permissions/%s"
	ToolOutputTruncateBytes int    // default 4000; spec §9 open question, made configurable
	HealthCheckTimeout      time.Duration
	ReconnectMinDelay       time.Duration
	ReconnectMaxDelay       time.Duration
}

func (c *Config) applyDefaults() {
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.EventsPath == "" {
		c.EventsPath = "/events"
	}
	if c.CreateSessionPath == "" {
		c.CreateSessionPath = "/sessions"
	}
	if c.SendMessagePathFmt == "" {
		c.SendMessagePathFmt = "/sessions/%s/messages"
	}
	if c.PermissionReplyPathFmt == "" {
		c.PermissionReplyPathFmt = "/sessions/%s/permissions/%s"
	}
	if c.ToolOutputTruncateBytes == 0 {
		c.ToolOutputTruncateBytes = 4000
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = 30 * time.Second
	}
	if c.ReconnectMinDelay == 0 {
		c.ReconnectMinDelay = 2 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
}

// Adapter is one SSE-backed alternate-provider adapter, shared across every
// session that uses the "sse-adapter" provider (one upstream SSE stream, many
// upstream sessions multiplexed over its events).
type Adapter struct {
	cfg    Config
	br     *bridge.Bridge
	client *http.Client
	logger *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*bridge.Session // fossclaw session id -> session
	upstreamOf map[string]string          // fossclaw session id -> upstream session id
	fossclawOf map[string]string          // upstream session id -> fossclaw session id
	deltaBuf   map[string]*strings.Builder // fossclaw session id -> accumulated delta text
}

// New constructs an Adapter. Call Start before CreateSession.
func New(cfg Config, br *bridge.Bridge, logger *slog.Logger) *Adapter {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:        cfg,
		br:         br,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "adapter-sse"),
		sessions:   make(map[string]*bridge.Session),
		upstreamOf: make(map[string]string),
		fossclawOf: make(map[string]string),
		deltaBuf:   make(map[string]*strings.Builder),
	}
}

// Start waits up to HealthCheckTimeout for the upstream health check to succeed,
// then launches the background SSE read/reconnect loop.
func (a *Adapter) Start(ctx context.Context) error {
	deadline := time.Now().Add(a.cfg.HealthCheckTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+a.cfg.HealthCheckPath, nil)
		resp, err := a.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				go a.runEventLoop(ctx)
				return nil
			}
			lastErr = fmt.Errorf("health check status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("adapter upstream unhealthy after %s: %w", a.cfg.HealthCheckTimeout, lastErr)
}

// CreateSession issues a POST to create an upstream session, records the mapping,
// registers the browser-message handler in place of the agent socket, and
// immediately injects a synthetic session_init so the browser sees a connected
// session (spec §4.3.1 "On createSession").
func (a *Adapter) CreateSession(ctx context.Context, s *bridge.Session) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+a.cfg.CreateSessionPath, bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("create upstream session: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode upstream session response: %w", err)
	}

	a.mu.Lock()
	a.sessions[s.ID] = s
	a.upstreamOf[s.ID] = body.SessionID
	a.fossclawOf[body.SessionID] = s.ID
	a.mu.Unlock()

	a.br.RegisterExternalHandler(s, func(frame []byte) error {
		return a.handleBrowserFrame(ctx, s.ID, frame)
	})

	init := protocol.SystemInit{}
	return a.br.HandleAgentFrame(s, envelope(protocol.AgentSystemInit, init))
}

// handleBrowserFrame implements the adapter's side of registerExternalHandler: it
// receives bridge-framed agent-JSON (the same shape the bridge would send to a real
// agent socket) and translates it into upstream HTTP calls.
func (a *Adapter) handleBrowserFrame(ctx context.Context, sessionID string, frame []byte) error {
	var raw struct {
		Type    string                     `json:"type"`
		Message protocol.UserMessage       `json:"message"`
		Control map[string]string          `json:"control"`
	}
	if err := json.Unmarshal(bytes.TrimRight(frame, "\n"), &raw); err != nil {
		return fmt.Errorf("decode bridge frame: %w", err)
	}

	a.mu.Lock()
	s := a.sessions[sessionID]
	upstream := a.upstreamOf[sessionID]
	a.mu.Unlock()
	if s == nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}

	switch raw.Type {
	case "user":
		return a.sendMessage(ctx, s, upstream, raw.Message)
	case "control_request":
		// interrupt / set_model: best-effort, no dedicated upstream endpoint in
		// this minimal contract — the adapter acknowledges locally.
		return nil
	default:
		return nil
	}
}

// sendMessage builds a parts array (images first, then text), issues an async POST,
// and immediately injects a stream_event: message_start so the UI shows progress
// (spec §4.3.1 "On sendMessage").
func (a *Adapter) sendMessage(ctx context.Context, s *bridge.Session, upstreamSessionID string, msg protocol.UserMessage) error {
	path := fmt.Sprintf(a.cfg.SendMessagePathFmt, upstreamSessionID)
	body, err := json.Marshal(map[string]any{"parts": msg.Content})
	if err != nil {
		return err
	}

	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.client.Do(req)
		if err != nil {
			a.injectError(s, fmt.Sprintf("upstream send failed: %v", err))
			return
		}
		resp.Body.Close()
	}()

	return a.br.HandleAgentFrame(s, envelope(protocol.AgentStreamEvent, protocol.StreamEvent{SubType: "message_start"}))
}

func (a *Adapter) injectError(s *bridge.Session, text string) {
	_ = a.br.HandleAgentFrame(s, envelope(protocol.AgentAssistant, protocol.MessageFrame{
		Content: []protocol.ContentBlock{{Type: "text", Text: text}},
	}))
}

// sseEvent is one parsed "event: TYPE\ndata: JSON\n\n" block from the upstream
// stream, carrying an upstream session id and an event-type tag.
type sseEvent struct {
	UpstreamSessionID string          `json:"session_id"`
	Type              string          `json:"type"`
	Text              string          `json:"text,omitempty"`
	ToolName          string          `json:"tool_name,omitempty"`
	ToolUseID         string          `json:"tool_use_id,omitempty"`
	Blocks            json.RawMessage `json:"blocks,omitempty"`
	ErrorMessage      string          `json:"error,omitempty"`
	RequestID         string          `json:"request_id,omitempty"`
}

func (a *Adapter) runEventLoop(ctx context.Context) {
	delay := a.cfg.ReconnectMinDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connected, err := a.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		// Successful (re)connection resets the backoff for the next disconnect.
		if connected {
			delay = a.cfg.ReconnectMinDelay
		}
		if err != nil {
			a.logger.Warn("SSE stream disconnected, reconnecting", "error", err, "delay", delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > a.cfg.ReconnectMaxDelay {
			delay = a.cfg.ReconnectMaxDelay
		}
	}
}

func (a *Adapter) connectAndStream(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+a.cfg.EventsPath, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("events stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventType string
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 {
				a.dispatchSSE(eventType, strings.Join(dataLines, "\n"))
			}
			eventType, dataLines = "", nil
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return true, err
	}
	return true, fmt.Errorf("events stream closed")
}

func (a *Adapter) dispatchSSE(eventType, data string) {
	var ev sseEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		a.logger.Warn("malformed SSE event, dropping", "error", err)
		return
	}
	if ev.Type == "" {
		ev.Type = eventType
	}

	a.mu.Lock()
	sessionID, ok := a.fossclawOf[ev.UpstreamSessionID]
	var s *bridge.Session
	if ok {
		s = a.sessions[sessionID]
	}
	a.mu.Unlock()
	if s == nil {
		return
	}

	switch ev.Type {
	case "message.delta", "text.delta":
		a.appendDelta(s.ID, ev.Text)
		_ = a.br.HandleAgentFrame(s, envelope(protocol.AgentStreamEvent, protocol.StreamEvent{
			SubType: "content_block_delta",
			Delta:   &protocol.Delta{Type: "text_delta", Text: ev.Text},
		}))

	case "message.final":
		a.flushDelta(s.ID) // superseded by the explicit final message
		content := a.finalContentBlocks(ev)
		_ = a.br.HandleAgentFrame(s, envelope(protocol.AgentAssistant, protocol.MessageFrame{Content: content}))

	case "tool.start":
		_ = a.br.HandleAgentFrame(s, envelope(protocol.AgentToolProgress, protocol.ToolProgress{
			ToolUseID: ev.ToolUseID, ToolName: ev.ToolName, Status: "started",
		}))

	case "idle", "completion":
		if text := a.flushDelta(s.ID); text != "" {
			_ = a.br.HandleAgentFrame(s, envelope(protocol.AgentAssistant, protocol.MessageFrame{
				Content: []protocol.ContentBlock{{Type: "text", Text: text}},
			}))
		}
		_ = a.br.HandleAgentFrame(s, envelope(protocol.AgentResult, protocol.Result{}))

	case "permission.ask":
		// Adapter-specific policy: auto-allow (spec §4.3.1).
		go a.autoAllow(ev)

	case "error":
		_ = a.br.HandleAgentFrame(s, envelope(protocol.AgentAssistant, protocol.MessageFrame{
			Content: []protocol.ContentBlock{{Type: "text", Text: ev.ErrorMessage}},
		}))

	default:
		// Tolerate upstream protocol growth.
	}
}

// appendDelta accumulates one text-delta fragment for sessionID, so a run of
// "message.delta"/"text.delta" events can be flushed as a single assistant
// frame once the upstream signals idle/completion (spec §4.3.1 S5).
func (a *Adapter) appendDelta(sessionID, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.deltaBuf[sessionID]
	if !ok {
		b = &strings.Builder{}
		a.deltaBuf[sessionID] = b
	}
	b.WriteString(text)
}

// flushDelta returns and clears the accumulated delta text for sessionID.
func (a *Adapter) flushDelta(sessionID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.deltaBuf[sessionID]
	if !ok {
		return ""
	}
	delete(a.deltaBuf, sessionID)
	return b.String()
}

func (a *Adapter) finalContentBlocks(ev sseEvent) []protocol.ContentBlock {
	var blocks []protocol.ContentBlock
	if len(ev.Blocks) > 0 {
		_ = json.Unmarshal(ev.Blocks, &blocks)
	} else if ev.Text != "" {
		blocks = []protocol.ContentBlock{{Type: "text", Text: ev.Text}}
	}
	for i := range blocks {
		if blocks[i].Type == "tool_result" && len(blocks[i].Content) > a.cfg.ToolOutputTruncateBytes {
			blocks[i].Content = blocks[i].Content[:a.cfg.ToolOutputTruncateBytes] + "... [truncated]"
		}
	}
	return blocks
}

// autoAllow replies "always allow" to a permission-ask event by POSTing the
// decision back to the upstream (spec §4.3.1, adapter-specific policy).
func (a *Adapter) autoAllow(ev sseEvent) {
	a.mu.Lock()
	sessionID := a.fossclawOf[ev.UpstreamSessionID]
	s := a.sessions[sessionID]
	a.mu.Unlock()

	path := fmt.Sprintf(a.cfg.PermissionReplyPathFmt, ev.UpstreamSessionID, ev.RequestID)
	body, _ := json.Marshal(map[string]string{"decision": "always_allow"})

	req, err := http.NewRequest(http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("build permission reply request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		if s != nil {
			a.injectError(s, fmt.Sprintf("permission auto-allow failed: %v", err))
		}
		return
	}
	resp.Body.Close()
}

func envelope(typ string, payload any) protocol.Envelope {
	b, _ := json.Marshal(payload)
	return protocol.Envelope{Type: typ, Payload: b}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
