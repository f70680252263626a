package bridge

import (
	"encoding/json"
	"testing"

	"github.com/fossclaw/fossclaw/internal/protocol"
)

type recorder struct {
	frames []map[string]any
}

func (r *recorder) sink(frame []byte) {
	var m map[string]any
	_ = json.Unmarshal(frame, &m)
	r.frames = append(r.frames, m)
}

func agentLine(t *testing.T, typ string, payload any) protocol.Envelope {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return protocol.Envelope{Type: typ, Payload: b}
}

// S1 — new session, first message.
func TestScenarioS1(t *testing.T) {
	br := New(nil, nil, nil, nil)
	s := br.CreateSession("sess-1", "native")

	var browser recorder
	br.AttachBrowser(s, "b1", browser.sink, nil)

	if len(browser.frames) != 3 {
		t.Fatalf("want 3 frames (session_init, cli_disconnected, message_history), got %d: %+v", len(browser.frames), browser.frames)
	}
	if browser.frames[0]["type"] != protocol.OutSessionInit {
		t.Errorf("frame0 type = %v", browser.frames[0]["type"])
	}
	if browser.frames[1]["type"] != protocol.OutCLIDisconnected {
		t.Errorf("frame1 type = %v", browser.frames[1]["type"])
	}
	hist := browser.frames[2]["payload"].(map[string]any)
	if msgs, _ := hist["messages"].([]any); len(msgs) != 0 {
		t.Errorf("expected empty history, got %v", hist["messages"])
	}

	var agentRecv recorder
	agentOut := func(frame []byte) {
		var m map[string]any
		_ = json.Unmarshal(frame, &m)
		agentRecv.frames = append(agentRecv.frames, m)
	}
	br.AttachAgent(s, agentOut, nil)

	if browser.frames[len(browser.frames)-1]["type"] != protocol.OutCLIConnected {
		t.Fatalf("expected cli_connected broadcast")
	}

	userMsg := protocol.UserMessage{Content: []protocol.ContentBlock{{Type: "text", Text: "hi"}}}
	env := agentLine(t, protocol.BrowserUserMessage, userMsg)
	if err := br.HandleBrowserFrame(s, "b1", env); err != nil {
		t.Fatal(err)
	}

	if len(agentRecv.frames) != 1 {
		t.Fatalf("agent should receive exactly one frame, got %d", len(agentRecv.frames))
	}
	if agentRecv.frames[0]["type"] != protocol.AgentUser {
		t.Errorf("agent frame type = %v", agentRecv.frames[0]["type"])
	}
	msg := agentRecv.frames[0]["message"].(map[string]any)
	if msg["content"] != "hi" {
		t.Errorf("agent message content = %v", msg["content"])
	}

	assistantEnv := agentLine(t, protocol.AgentAssistant, protocol.MessageFrame{
		Content: []protocol.ContentBlock{{Type: "text", Text: "hello"}},
	})
	if err := br.HandleAgentFrame(s, assistantEnv); err != nil {
		t.Fatal(err)
	}

	last := browser.frames[len(browser.frames)-1]
	if last["type"] != protocol.AgentAssistant {
		t.Fatalf("want assistant frame, got %v", last["type"])
	}
}

// S2 — queueing before agent attach.
func TestScenarioS2(t *testing.T) {
	br := New(nil, nil, nil, nil)
	s := br.CreateSession("sess-2", "native")

	var browser recorder
	br.AttachBrowser(s, "b1", browser.sink, nil)

	for _, c := range []string{"a", "b", "c"} {
		env := agentLine(t, protocol.BrowserUserMessage, protocol.UserMessage{
			Content: []protocol.ContentBlock{{Type: "text", Text: c}},
		})
		if err := br.HandleBrowserFrame(s, "b1", env); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(s.History()); got != 3 {
		t.Fatalf("want 3 history entries, got %d", got)
	}

	var agentRecv recorder
	br.AttachAgent(s, agentRecv.sink, nil)

	if len(agentRecv.frames) != 3 {
		t.Fatalf("want 3 queued frames delivered, got %d", len(agentRecv.frames))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		msg := agentRecv.frames[i]["message"].(map[string]any)
		got := msg["content"]
		if got != w {
			t.Errorf("frame %d content = %v, want %v", i, got, w)
		}
	}
}

// S3 — permission replay on browser reconnect.
func TestScenarioS3(t *testing.T) {
	br := New(nil, nil, nil, nil)
	s := br.CreateSession("sess-3", "native")

	var agentRecv recorder
	br.AttachAgent(s, agentRecv.sink, nil)

	var browserA recorder
	br.AttachBrowser(s, "A", browserA.sink, nil)

	cr := protocol.ControlRequest{RequestID: "req-1", Tool: "Bash", Input: json.RawMessage(`{"command":"ls"}`)}
	if err := br.HandleAgentFrame(s, agentLine(t, protocol.AgentControlRequest, cr)); err != nil {
		t.Fatal(err)
	}

	last := browserA.frames[len(browserA.frames)-1]
	if last["type"] != protocol.OutPermissionRequest {
		t.Fatalf("browser A want permission_request, got %v", last["type"])
	}

	br.DetachBrowser(s, "A")

	if s.PendingPermissionCount() != 1 {
		t.Fatalf("detach must not affect pendingPermissions, got %d", s.PendingPermissionCount())
	}

	var browserB recorder
	br.AttachBrowser(s, "B", browserB.sink, nil)

	if len(browserB.frames) != 4 {
		t.Fatalf("want session_init, cli_connected, message_history, permission_request; got %d: %+v", len(browserB.frames), browserB.frames)
	}
	permFrame := browserB.frames[3]
	if permFrame["type"] != protocol.OutPermissionRequest {
		t.Fatalf("frame 3 type = %v", permFrame["type"])
	}
	payload := permFrame["payload"].(map[string]any)
	if payload["request_id"] != "req-1" {
		t.Errorf("request_id = %v", payload["request_id"])
	}
}

// S4 — agent exit archives the session.
func TestScenarioS4(t *testing.T) {
	br := New(nil, nil, nil, nil)
	s := br.CreateSession("sess-4", "native")

	var browser recorder
	br.AttachBrowser(s, "b1", browser.sink, nil)
	br.AttachAgent(s, func([]byte) {}, nil)

	br.DetachAgent(s, true)

	if !s.Archived() {
		t.Fatal("expected session archived after process-exit detach")
	}

	var sawDisconnect bool
	for _, f := range browser.frames {
		if f["type"] == protocol.OutCLIDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Fatal("expected cli_disconnected broadcast")
	}
}

// Testable property 3: permission lifecycle counts.
func TestPermissionLifecycle(t *testing.T) {
	br := New(nil, nil, nil, nil)
	s := br.CreateSession("sess-p", "native")
	br.AttachAgent(s, func([]byte) {}, nil)

	cr := protocol.ControlRequest{RequestID: "r1"}
	_ = br.HandleAgentFrame(s, agentLine(t, protocol.AgentControlRequest, cr))
	if s.PendingPermissionCount() != 1 {
		t.Fatalf("want 1 pending, got %d", s.PendingPermissionCount())
	}

	resp := protocol.PermissionResponse{RequestID: "r1", Approved: true}
	if err := br.HandleBrowserFrame(s, "b1", agentLine(t, protocol.BrowserPermissionResp, resp)); err != nil {
		t.Fatal(err)
	}
	if s.PendingPermissionCount() != 0 {
		t.Fatalf("want 0 pending after response, got %d", s.PendingPermissionCount())
	}
}

// Testable property 5: at-most-one-agent.
func TestAtMostOneAgent(t *testing.T) {
	br := New(nil, nil, nil, nil)
	s := br.CreateSession("sess-one", "native")

	var firstClosed bool
	br.AttachAgent(s, func([]byte) {}, func() { firstClosed = true })
	br.AttachAgent(s, func([]byte) {}, func() {})

	if !firstClosed {
		t.Fatal("expected first agent connection to be closed when replaced")
	}
	if !s.HasAgent() {
		t.Fatal("expected an agent still attached")
	}
}
