package cron

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/launcher"
)

// stubChecker always returns one trigger with a fixed dedupe key, modeling the
// e2e scenario's "checker that returns a single trigger with dedupeKey = k every
// tick" (spec §8 scenario S6).
type stubChecker struct {
	calls int
}

func (c *stubChecker) Check(ctx context.Context, config json.RawMessage) ([]Trigger, error) {
	c.calls++
	return []Trigger{{DedupeKey: "k", SessionName: "triggered", SeedPrompt: "go"}}, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *stubChecker) {
	t.Helper()
	st, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	checker := &stubChecker{}
	reg.Register("e2e-testing", checker)

	br := bridge.New(nil, nil, nil, nil)
	spawn := func(sessionID, socketURL, cwd, resumeSessionID string) (*exec.Cmd, error) {
		return exec.Command("true"), nil
	}
	l := launcher.New(br, spawn, func(string) string { return "" }, t.TempDir(), nil, nil)

	sched := NewScheduler(st, reg, l, br, nil)
	return sched, checker
}

func TestSchedulerDedupSuppressesRepeatTriggers(t *testing.T) {
	sched, checker := newTestScheduler(t)
	job := Job{ID: "j1", Type: "e2e-testing", Enabled: true, IntervalSecs: 1, CreatedAt: time.Now()}
	sched.store.Put(job)

	run1, err := sched.TriggerNow(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if run1.TriggerCount != 1 {
		t.Fatalf("first run: expected 1 new trigger, got %d", run1.TriggerCount)
	}

	run2, err := sched.TriggerNow(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if run2.TriggerCount != 0 {
		t.Fatalf("second run: expected 0 new triggers (dedup), got %d", run2.TriggerCount)
	}
	if checker.calls != 2 {
		t.Fatalf("expected checker invoked twice, got %d", checker.calls)
	}

	sched.store.ResetSeenSet("j1")
	sched.store.Flush()

	run3, err := sched.TriggerNow(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if run3.TriggerCount != 1 {
		t.Fatalf("after reset: expected 1 new trigger, got %d", run3.TriggerCount)
	}
}

func TestSchedulerUnknownJobType(t *testing.T) {
	sched, _ := newTestScheduler(t)
	job := Job{ID: "j2", Type: "does-not-exist", Enabled: true, IntervalSecs: 1, CreatedAt: time.Now()}
	sched.store.Put(job)

	run, err := sched.TriggerNow(context.Background(), "j2")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunFailed {
		t.Fatalf("expected failed run for unknown job type, got %s", run.Status)
	}
}
