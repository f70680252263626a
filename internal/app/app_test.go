package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	return &config.Config{
		Port:            port,
		BaseCwd:         base,
		SessionDir:      base + "/sessions",
		SessionTTLDays:  0,
		User:            "admin",
		Pass:            "admin-test-password",
		AltProviderPort: port + 100,
		AllowedOrigins:  []string{"*"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWiresEveryCollaborator(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := New(cfg, "test", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.Bridge() == nil {
		t.Fatal("expected non-nil bridge")
	}
	if a.CronStore() == nil {
		t.Fatal("expected non-nil cron store")
	}
	if a.Launcher() == nil {
		t.Fatal("expected non-nil launcher")
	}
	if a.EventBus() == nil {
		t.Fatal("expected non-nil event bus")
	}
	if a.Port() != cfg.Port {
		t.Fatalf("Port() = %d, want %d", a.Port(), cfg.Port)
	}
}

func TestRunListensAndShutsDownGracefully(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := New(cfg, "test", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	// Give the listener a moment to come up before triggering shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after shutdown within 5s")
	}
}

func TestPurgeArchivedOlderThanRemovesOnlyExpiredArchivedSessions(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := New(cfg, "test", discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// No sessions exist yet; purging must be a no-op, not a panic.
	a.purgeArchivedOlderThan(24 * time.Hour)

	if got := len(a.bridge.List()); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}

	now := time.Now()
	a.bridge.RestoreSession("old", "native", bridge.SessionMeta{ID: "old", LastActivityAt: now.Add(-48 * time.Hour)}, bridge.State{}, nil)
	a.bridge.RestoreSession("recent", "native", bridge.SessionMeta{ID: "recent", LastActivityAt: now}, bridge.State{}, nil)
	a.bridge.CreateSession("live", "native")

	a.purgeArchivedOlderThan(24 * time.Hour)

	if _, ok := a.bridge.Get("old"); ok {
		t.Error("expired archived session should have been purged")
	}
	if _, ok := a.bridge.Get("recent"); !ok {
		t.Error("recent archived session should be kept")
	}
	if _, ok := a.bridge.Get("live"); !ok {
		t.Error("live session should be kept")
	}
}
