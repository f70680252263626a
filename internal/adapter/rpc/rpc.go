// Package rpc implements the JSON-RPC streaming adapter (spec §4.3.2): it makes an
// external process speaking JSON-RPC 2.0 over a persistent duplex socket look to
// the bridge like a native agent socket.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/protocol"
)

// Request is one JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 reply, correlated to a Request by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a server-pushed JSON-RPC 2.0 message with no id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Conn is the duplex transport the adapter drives: line-delimited JSON-RPC
// messages over a persistent socket (a gorilla/websocket connection wrapped as an
// io.ReadWriteCloser, or any other duplex stream).
type Conn interface {
	io.ReadWriteCloser
}

// Config configures one adapter instance, one per session (spec §4.3.2 holds "a
// persistent duplex socket" per external process).
type Config struct {
	Dial           func(ctx context.Context) (Conn, error)
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Adapter drives one JSON-RPC connection for one session.
type Adapter struct {
	cfg    Config
	br     *bridge.Bridge
	s      *bridge.Session
	logger *slog.Logger

	nextID int64

	mu      sync.Mutex
	conn    Conn
	pending map[int64]chan rpcResult
	closed  bool
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// New constructs an Adapter bound to one session.
func New(cfg Config, br *bridge.Bridge, s *bridge.Session, logger *slog.Logger) *Adapter {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:     cfg,
		br:      br,
		s:       s,
		logger:  logger.With("component", "adapter-rpc", "session_id", s.ID),
		pending: make(map[int64]chan rpcResult),
	}
}

// Start dials the upstream process, sends `initialize`, registers the
// browser-message handler in place of the agent socket, and launches the
// notification read loop.
func (a *Adapter) Start(ctx context.Context) error {
	conn, err := a.cfg.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial adapter upstream: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go a.readLoop()

	if _, err := a.call(ctx, "initialize", nil); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if _, err := a.call(ctx, "thread/start", nil); err != nil {
		return fmt.Errorf("thread/start: %w", err)
	}

	a.br.RegisterExternalHandler(a.s, func(frame []byte) error {
		return a.handleBrowserFrame(ctx, frame)
	})

	return a.br.HandleAgentFrame(a.s, envelope(protocol.AgentSystemInit, protocol.SystemInit{}))
}

func (a *Adapter) handleBrowserFrame(ctx context.Context, frame []byte) error {
	var raw struct {
		Type    string               `json:"type"`
		Message protocol.UserMessage `json:"message"`
		Control map[string]string    `json:"control"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return fmt.Errorf("decode bridge frame: %w", err)
	}

	switch raw.Type {
	case "user":
		_, err := a.call(ctx, "turn/start", map[string]any{"content": raw.Message.Content})
		return err
	case "control_request":
		if raw.Control["action"] == "interrupt" {
			_, err := a.call(ctx, "turn/interrupt", nil)
			return err
		}
		if raw.Control["action"] == "set_model" {
			_, err := a.call(ctx, "model/list", map[string]any{"select": raw.Control["model"]})
			return err
		}
	}
	return nil
}

// call issues a request and blocks for the matching response, up to
// cfg.RequestTimeout. Unmatched responses (arriving after a timeout) are logged and
// dropped by the read loop, not here.
func (a *Adapter) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&a.nextID, 1)
	ch := make(chan rpcResult, 1)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, fmt.Errorf("adapter connection closed")
	}
	a.pending[id] = ch
	conn := a.conn
	a.mu.Unlock()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := protocol.EncodeLine(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(line); err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := a.cfg.RequestTimeout
	select {
	case res := <-ch:
		return res.result, res.err
	case <-time.After(timeout):
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return nil, fmt.Errorf("request %s timed out after %s", method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) readLoop() {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var disc struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  *RPCError       `json:"error"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(line, &disc); err != nil {
			a.logger.Warn("malformed rpc message, dropping", "error", err)
			continue
		}

		if disc.ID != nil && disc.Method == "" {
			a.resolve(*disc.ID, disc.Result, disc.Error)
			continue
		}
		a.handleNotification(disc.Method, disc.Params)
	}

	a.mu.Lock()
	a.closed = true
	pending := a.pending
	a.pending = make(map[int64]chan rpcResult)
	a.mu.Unlock()
	for _, ch := range pending {
		ch <- rpcResult{err: fmt.Errorf("connection closed")}
	}

	a.br.DetachAgent(a.s, false)
}

func (a *Adapter) resolve(id int64, result json.RawMessage, rpcErr *RPCError) {
	a.mu.Lock()
	ch, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok {
		a.logger.Warn("unmatched rpc response, dropping", "id", id)
		return
	}
	var err error
	if rpcErr != nil {
		err = rpcErr
	}
	ch <- rpcResult{result: result, err: err}
}

func (a *Adapter) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "turn/started":
		// Internal state only; no browser frame (spec §4.3.2).

	case "item/agentMessage/delta":
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(params, &p)
		_ = a.br.HandleAgentFrame(a.s, envelope(protocol.AgentStreamEvent, protocol.StreamEvent{
			SubType: "content_block_delta",
			Delta:   &protocol.Delta{Type: "text_delta", Text: p.Text},
		}))

	case "item/agentMessage/final":
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(params, &p)
		_ = a.br.HandleAgentFrame(a.s, envelope(protocol.AgentAssistant, protocol.MessageFrame{
			Content: []protocol.ContentBlock{{Type: "text", Text: p.Text}},
		}))

	case "turn/completed":
		_ = a.br.HandleAgentFrame(a.s, envelope(protocol.AgentResult, protocol.Result{}))

	case "item/toolCall/start", "item/toolCall/progress":
		var p struct {
			ToolUseID string `json:"tool_use_id"`
			ToolName  string `json:"tool_name"`
		}
		_ = json.Unmarshal(params, &p)
		_ = a.br.HandleAgentFrame(a.s, envelope(protocol.AgentToolProgress, protocol.ToolProgress{
			ToolUseID: p.ToolUseID, ToolName: p.ToolName, Status: "running",
		}))

	case "item/toolCall/final":
		var p struct {
			ToolUseID string `json:"tool_use_id"`
			ToolName  string `json:"tool_name"`
			Result    string `json:"result"`
		}
		_ = json.Unmarshal(params, &p)
		_ = a.br.HandleAgentFrame(a.s, envelope(protocol.AgentAssistant, protocol.MessageFrame{
			Content: []protocol.ContentBlock{
				{Type: "tool_use", ToolUseID: p.ToolUseID, ToolName: p.ToolName},
				{Type: "tool_result", ToolUseID: p.ToolUseID, Content: p.Result},
			},
		}))

	default:
		// Tolerate upstream protocol growth.
	}
}

func envelope(typ string, payload any) protocol.Envelope {
	b, _ := json.Marshal(payload)
	return protocol.Envelope{Type: typ, Payload: b}
}
