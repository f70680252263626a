package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/protocol"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	meta := bridge.SessionMeta{ID: "s1", Provider: "native", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	st.SaveMeta("s1", meta)
	st.SaveState("s1", bridge.State{Model: "m1", Cwd: "/tmp"})
	st.SaveHistory("s1", []protocol.HistoryEntry{{ID: "h1", Type: "assistant"}})
	st.Flush()

	loaded, err := st.Load("s1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Meta.ID != "s1" || loaded.Meta.Provider != "native" {
		t.Errorf("meta mismatch: %+v", loaded.Meta)
	}
	if loaded.State.Model != "m1" {
		t.Errorf("state mismatch: %+v", loaded.State)
	}
	if len(loaded.History) != 1 || loaded.History[0].ID != "h1" {
		t.Errorf("history mismatch: %+v", loaded.History)
	}
}

func TestLoadAllSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	st.SaveMeta("good", bridge.SessionMeta{ID: "good"})
	st.Flush()

	// "bad" has an unparsable meta.json; "missing" has no meta.json at all.
	// LoadAll should include neither.
	badDir := filepath.Join(dir, "sessions", "bad")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(badDir, "meta.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sessions", "missing"), 0o755); err != nil {
		t.Fatal(err)
	}

	all := st.LoadAll()
	if len(all) != 1 || all[0].ID != "good" {
		t.Fatalf("want exactly session 'good', got %+v", all)
	}
}

func TestRemoveCancelsPendingWrites(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	st.SaveMeta("s1", bridge.SessionMeta{ID: "s1"})
	st.Remove("s1")
	st.Flush()

	if _, err := st.Load("s1"); err == nil {
		t.Fatal("expected load to fail after remove")
	}
}
