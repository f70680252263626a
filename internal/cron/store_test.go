package cron

import (
	"strconv"
	"testing"
	"time"
)

func TestJobPutGetRoundTrip(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	job := Job{ID: "j1", Name: "poll issues", Type: "http-poll", Enabled: true, IntervalSecs: 60, CreatedAt: time.Now()}
	st.Put(job)
	st.Flush()

	got, ok := st.Get("j1")
	if !ok {
		t.Fatal("expected job to be stored")
	}
	if got.Name != "poll issues" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestRunHistoryCappedAt100(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 110; i++ {
		st.AppendRun("j1", Run{ID: "run-" + strconv.Itoa(i), JobID: "j1", Status: RunCompleted})
	}
	st.Flush()
	runs := st.Runs("j1", 0)
	if len(runs) > maxRunsPerJob {
		t.Fatalf("expected at most %d runs, got %d", maxRunsPerJob, len(runs))
	}
}

func TestSeenSetCapAndReset(t *testing.T) {
	st, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	st.AddSeenKeys("j1", []string{"a", "b", "c"})
	st.Flush()
	if seen := st.SeenSet("j1"); len(seen) != 3 {
		t.Fatalf("expected 3 seen keys, got %d", len(seen))
	}

	st.ResetSeenSet("j1")
	st.Flush()
	if seen := st.SeenSet("j1"); len(seen) != 0 {
		t.Fatalf("expected seen set cleared, got %d", len(seen))
	}
}
