package cron

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fossclaw/fossclaw/internal/store"
)

const (
	jobListDebounce = 500 * time.Millisecond
	runsDebounce    = 500 * time.Millisecond
	seenDebounce    = 500 * time.Millisecond

	maxRunsPerJob = 100
	maxSeenKeys   = 5000
)

// Store persists the job list in one file and, per job, a run-history file and a
// seen-set file, with the same debounce+atomic-rename discipline as the session
// store (spec §4.6).
type Store struct {
	base   string
	logger *slog.Logger
	deb    *store.Debouncer

	mu   sync.Mutex
	jobs map[string]Job
}

// New constructs a Store rooted at base, loading any persisted job list.
func New(base string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(base, "cron-runs"), 0o755); err != nil {
		return nil, fmt.Errorf("create cron-runs dir: %w", err)
	}
	s := &Store{
		base:   base,
		logger: logger.With("component", "cron-store"),
		deb:    store.NewDebouncer(),
		jobs:   make(map[string]Job),
	}

	if data, err := os.ReadFile(s.jobListPath()); err == nil {
		var jobs []Job
		if err := json.Unmarshal(data, &jobs); err != nil {
			return nil, fmt.Errorf("parse cron-jobs.json: %w", err)
		}
		for _, j := range jobs {
			s.jobs[j.ID] = j
		}
	}
	return s, nil
}

func (s *Store) jobListPath() string { return filepath.Join(s.base, "cron-jobs.json") }

func (s *Store) jobDir(jobID string) string { return filepath.Join(s.base, "cron-runs", jobID) }

func (s *Store) runsPath(jobID string) string { return filepath.Join(s.jobDir(jobID), "runs.json") }

func (s *Store) seenPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "seen-keys.json")
}

// Jobs returns every job, ordered by id.
func (s *Store) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Get returns one job by id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Put inserts or replaces a job and enqueues a debounced write of the job list.
func (s *Store) Put(j Job) {
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	s.saveJobList()
}

// Delete removes a job and its run-history/seen-set files.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	s.saveJobList()
	s.deb.Cancel(id + ":runs")
	s.deb.Cancel(id + ":seen")
	_ = os.RemoveAll(s.jobDir(id))
}

func (s *Store) saveJobList() {
	s.deb.Enqueue("jobs", jobListDebounce, func() {
		if err := store.AtomicWriteJSON(s.jobListPath(), s.Jobs()); err != nil {
			s.logger.Warn("write cron-jobs.json failed", "error", err)
		}
	})
}

// Runs returns up to limit most-recent runs for a job (0 means all, capped at
// maxRunsPerJob already enforced by AppendRun).
func (s *Store) Runs(jobID string, limit int) []Run {
	var runs []Run
	if data, err := os.ReadFile(s.runsPath(jobID)); err == nil {
		_ = json.Unmarshal(data, &runs)
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return runs
}

// AppendRun adds a run to the job's history, evicting the oldest entry if the
// cap of maxRunsPerJob is exceeded (spec §4.6 "LRU by insertion").
func (s *Store) AppendRun(jobID string, r Run) {
	runs := s.Runs(jobID, 0)
	replaced := false
	for i, existing := range runs {
		if existing.ID == r.ID {
			runs[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		runs = append(runs, r)
	}
	if len(runs) > maxRunsPerJob {
		runs = runs[len(runs)-maxRunsPerJob:]
	}
	s.deb.Enqueue(jobID+":runs", runsDebounce, func() {
		if err := store.AtomicWriteJSON(s.runsPath(jobID), runs); err != nil {
			s.logger.Warn("write run history failed", "job_id", jobID, "error", err)
		}
	})
}

// SeenSet reads a job's dedup-key set.
func (s *Store) SeenSet(jobID string) []string {
	var seen []string
	if data, err := os.ReadFile(s.seenPath(jobID)); err == nil {
		_ = json.Unmarshal(data, &seen)
	}
	return seen
}

// AddSeenKeys appends new dedup keys to a job's seen-set, evicting the oldest
// entries (FIFO) once the cap of maxSeenKeys is exceeded (spec §4.6).
func (s *Store) AddSeenKeys(jobID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	seen := s.SeenSet(jobID)
	seen = append(seen, keys...)
	if len(seen) > maxSeenKeys {
		seen = seen[len(seen)-maxSeenKeys:]
	}
	s.deb.Enqueue(jobID+":seen", seenDebounce, func() {
		if err := store.AtomicWriteJSON(s.seenPath(jobID), seen); err != nil {
			s.logger.Warn("write seen-keys failed", "job_id", jobID, "error", err)
		}
	})
}

// ResetSeenSet clears a job's seen-set (spec §6.2 POST /cron/jobs/{id}/reset).
func (s *Store) ResetSeenSet(jobID string) {
	s.deb.Enqueue(jobID+":seen", seenDebounce, func() {
		if err := store.AtomicWriteJSON(s.seenPath(jobID), []string{}); err != nil {
			s.logger.Warn("reset seen-keys failed", "job_id", jobID, "error", err)
		}
	})
}

// Flush forces every pending debounced write to run immediately.
func (s *Store) Flush() {
	s.deb.Flush()
}
