package audit

import (
	"context"
	"testing"
	"time"

	"github.com/fossclaw/fossclaw/internal/eventbus"
)

func TestSQLiteRoundTrip(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.LogEvent(ctx, &Event{ID: "e1", Type: eventbus.SessionCreated, SessionID: "s1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	events, err := store.ListEvents(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SessionID != "s1" {
		t.Fatalf("events = %+v", events)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	if err := store.LogEvent(ctx, &Event{ID: "old", Type: "x", CreatedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := store.LogEvent(ctx, &Event{ID: "new", Type: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	n, err := store.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	events, err := store.ListEvents(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != "new" {
		t.Fatalf("events = %+v", events)
	}
}

func TestTailWritesBusEventsToStore(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Tail(ctx, bus, store, nil)
		close(done)
	}()

	bus.PublishType(eventbus.SessionCreated, map[string]string{"sessionId": "s1"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	events, err := store.ListEvents(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SessionID != "s1" {
		t.Fatalf("events = %+v", events)
	}
}
