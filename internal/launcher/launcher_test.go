package launcher

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
)

func newTestLauncher(t *testing.T, spawn SpawnFunc) (*Launcher, *bridge.Bridge) {
	t.Helper()
	br := bridge.New(nil, nil, nil, nil)
	l := New(br, spawn, func(id string) string { return "ws://127.0.0.1:0/ws/agent/" + id }, t.TempDir(), nil, nil)
	return l, br
}

func TestCreateSpawnsAndTracksRecord(t *testing.T) {
	spawn := func(sessionID, socketURL, cwd, resume string) (*exec.Cmd, error) {
		return exec.Command("true"), nil
	}
	l, br := newTestLauncher(t, spawn)

	sessionID, err := l.Create(context.Background(), CreateOptions{Model: "m1", Cwd: "/tmp"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := br.Get(sessionID); !ok {
		t.Fatal("expected bridge session to be registered")
	}

	rec, ok := l.Get(sessionID)
	if !ok {
		t.Fatal("expected launcher record")
	}
	if rec.Model != "m1" || rec.Provider != "native" {
		t.Errorf("unexpected record: %+v", rec)
	}

	// The short-lived "true" process exits almost immediately; give the
	// supervisor goroutine a moment to observe it and archive the session.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := br.Get(sessionID); ok && s.Archived() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected session to be archived after process exit")
}

func TestResumeRejectsStillRunning(t *testing.T) {
	spawn := func(sessionID, socketURL, cwd, resume string) (*exec.Cmd, error) {
		return exec.Command("sleep", "5"), nil
	}
	l, br := newTestLauncher(t, spawn)

	sessionID, err := l.Create(context.Background(), CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	s, _ := br.Get(sessionID)
	br.AttachAgent(s, func([]byte) {}, nil)

	if _, err := l.Resume(context.Background(), sessionID, CreateOptions{}); err == nil {
		t.Fatal("expected error resuming a still-running session")
	}

	_ = l.Kill(sessionID)
}
