package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ch := b.Subscribe(SessionCreated)
	defer b.Unsubscribe(ch)

	b.PublishType(AgentAttached, nil)
	b.PublishType(SessionCreated, map[string]string{"id": "s1"})

	select {
	case e := <-ch:
		if e.Type != SessionCreated {
			t.Fatalf("type = %q, want %q", e.Type, SessionCreated)
		}
	default:
		t.Fatal("expected one matching event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected second event: %+v", e)
	default:
	}
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	for i := 0; i < 100; i++ {
		b.PublishType(AgentAttached, nil) // Publish must not block even once full.
	}
	_ = ch
}
