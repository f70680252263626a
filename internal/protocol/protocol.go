// Package protocol defines the wire vocabulary shared by the agent-side NDJSON
// socket and the browser-side whole-object socket.
package protocol

import "encoding/json"

// Envelope is the outer shape of every frame on either wire: a type discriminant
// plus an arbitrary payload. Agent-side frames are newline-terminated; browser-side
// frames are one per socket message.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"-"`
}

// Agent-originated frame type discriminants (spec §4.1 inbound-from-agent table).
const (
	AgentSystemInit      = "system/init"
	AgentSystemStatus    = "system/status"
	AgentAssistant       = "assistant"
	AgentUser            = "user"
	AgentResult          = "result"
	AgentStreamEvent     = "stream_event"
	AgentToolProgress    = "tool_progress"
	AgentControlRequest  = "control_request"
)

// Browser-originated frame type discriminants (spec §4.1 inbound-from-browser table).
const (
	BrowserUserMessage       = "user_message"
	BrowserPermissionResp    = "permission_response"
	BrowserInterrupt         = "interrupt"
	BrowserSetModel          = "set_model"
)

// Bridge-to-browser frame type discriminants synthesized by the bridge itself.
const (
	OutSessionInit        = "session_init"
	OutCLIConnected       = "cli_connected"
	OutCLIDisconnected    = "cli_disconnected"
	OutMessageHistory     = "message_history"
	OutPermissionRequest  = "permission_request"
	OutPermissionCancel   = "permission_cancelled"
	OutStatusChange       = "status_change"
	OutError              = "error"
)

// SystemInit is the payload of an AgentSystemInit frame. Fields are a duck-typed
// partial view: agents report whichever subset they know; the bridge merges only
// present (non-nil) keys into session state, never replacing the whole record.
type SystemInit struct {
	Model          *string  `json:"model,omitempty"`
	Cwd            *string  `json:"cwd,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	PermissionMode *string  `json:"permission_mode,omitempty"`
	Version        *string  `json:"version,omitempty"`
	CostUSD        *float64 `json:"cost_usd,omitempty"`
	TurnCount      *int     `json:"turn_count,omitempty"`
	ContextPercent *float64 `json:"context_percent,omitempty"`
}

// SystemStatus is the payload of an AgentSystemStatus frame.
type SystemStatus struct {
	Status string `json:"status"`
}

// ContentBlock is a single block of an assistant/user message: text, tool_use, or
// tool_result, matching the native-agent content-block shape.
type ContentBlock struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	Content     string          `json:"content,omitempty"`
	IsError     bool            `json:"is_error,omitempty"`
	Source      json.RawMessage `json:"source,omitempty"` // image blocks
}

// MessageFrame is the payload of AgentAssistant and AgentUser frames. The
// BrowserUserMessage frame uses UserMessage instead.
type MessageFrame struct {
	Content []ContentBlock `json:"content"`
}

// Result is the payload of an AgentResult frame.
type Result struct {
	CostUSD        *float64 `json:"cost_usd,omitempty"`
	TurnCount      *int     `json:"turn_count,omitempty"`
	ContextPercent *float64 `json:"context_percent,omitempty"`
	Compacted      bool     `json:"compacted,omitempty"`
	Summary        string   `json:"summary,omitempty"`
}

// StreamEvent is the payload of an AgentStreamEvent frame — a streaming delta that
// is forwarded but never recorded in history.
type StreamEvent struct {
	SubType string `json:"sub_type"` // e.g. "message_start", "content_block_delta"
	Index   int    `json:"index,omitempty"`
	Delta   *Delta `json:"delta,omitempty"`
}

// Delta carries a single streamed text fragment.
type Delta struct {
	Type string `json:"type"` // "text_delta"
	Text string `json:"text"`
}

// ToolProgress is the payload of an AgentToolProgress frame.
type ToolProgress struct {
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name"`
	Status    string `json:"status"`
}

// ControlRequest is the payload of an AgentControlRequest (tool-use permission ask)
// frame, also the payload echoed back in OutPermissionRequest.
type ControlRequest struct {
	RequestID   string          `json:"request_id"`
	Tool        string          `json:"tool"`
	Description string          `json:"description,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// PermissionResponse is the payload of a BrowserPermissionResp frame.
type PermissionResponse struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}

// UserMessage is the payload of a BrowserUserMessage frame. On the wire,
// content is either a bare string (shorthand for a single text block, per
// spec.md's scenario wording) or a content-block array; UserMessage accepts
// both and round-trips a plain-text message back out as a bare string.
type UserMessage struct {
	Content []ContentBlock
}

func (m UserMessage) MarshalJSON() ([]byte, error) {
	if text, ok := soleTextBlock(m.Content); ok {
		return json.Marshal(struct {
			Content string `json:"content"`
		}{Content: text})
	}
	return json.Marshal(struct {
		Content []ContentBlock `json:"content"`
	}{Content: m.Content})
}

func (m *UserMessage) UnmarshalJSON(b []byte) error {
	var raw struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return m.unmarshalContent(raw.Content)
}

func (m *UserMessage) unmarshalContent(raw json.RawMessage) error {
	if len(raw) == 0 {
		m.Content = nil
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		m.Content = []ContentBlock{{Type: "text", Text: text}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return err
	}
	m.Content = blocks
	return nil
}

// soleTextBlock reports whether blocks is exactly one plain text block, and
// if so returns its text.
func soleTextBlock(blocks []ContentBlock) (string, bool) {
	if len(blocks) != 1 {
		return "", false
	}
	b := blocks[0]
	if b.Type != "text" || b.ToolUseID != "" || b.ToolName != "" || len(b.ToolInput) > 0 || b.Content != "" || b.IsError || len(b.Source) > 0 {
		return "", false
	}
	return b.Text, true
}

// SessionInit is the payload of an OutSessionInit frame sent to a newly-attached
// browser, synthesized from the current session state.
type SessionInit struct {
	SessionID      string   `json:"session_id"`
	Model          string   `json:"model,omitempty"`
	Cwd            string   `json:"cwd,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	Archived       bool     `json:"archived"`
}

// HistoryEntry is one record in messageHistory: replayed verbatim to late-joining
// browsers, excludes streaming deltas and tool-progress updates.
type HistoryEntry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // assistant | user | result | user_message
	Content   []ContentBlock `json:"content,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// MessageHistory is the payload of an OutMessageHistory frame.
type MessageHistory struct {
	Messages []HistoryEntry `json:"messages"`
}
