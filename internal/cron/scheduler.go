package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/launcher"
)

// tickInterval is the scheduler's fixed poll frequency (spec §4.5).
const tickInterval = 15 * time.Second

// maxConcurrentJobs bounds how many jobs a single tick runs at once. The tick
// returns only after every dispatched job has finished.
const maxConcurrentJobs = 8

// Scheduler runs the 15-second tick loop described in spec §4.5.
type Scheduler struct {
	store     *Store
	registry  *Registry
	launcher  *launcher.Launcher
	bridge    *bridge.Bridge
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]bool // active-jobs set, prevents reentrant execution per job
}

// NewScheduler constructs a Scheduler.
func NewScheduler(st *Store, registry *Registry, l *launcher.Launcher, br *bridge.Bridge, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    st,
		registry: registry,
		launcher: l,
		bridge:   br,
		logger:   logger.With("component", "scheduler"),
		active:   make(map[string]bool),
	}
}

// Run blocks, ticking every 15 seconds until ctx is cancelled. Per-job errors are
// caught and recorded on the run row; they never stop the tick loop (spec §9
// "one bad job does not poison the tick").
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	var due []Job
	for _, j := range s.store.Jobs() {
		if j.Enabled && j.due(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentJobs)
	for _, j := range due {
		job := j
		g.Go(func() error {
			s.runJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

// TriggerNow runs a job immediately, bypassing the interval check, but otherwise
// identically (spec §4.5 "Manual trigger bypasses the interval check but is
// otherwise identical").
func (s *Scheduler) TriggerNow(ctx context.Context, jobID string) (Run, error) {
	job, ok := s.store.Get(jobID)
	if !ok {
		return Run{}, fmt.Errorf("no job %s", jobID)
	}
	return s.runJob(ctx, job), nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) Run {
	s.mu.Lock()
	if s.active[job.ID] {
		s.mu.Unlock()
		return Run{}
	}
	s.active[job.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
	}()

	run := Run{ID: uuid.NewString(), JobID: job.ID, StartedAt: time.Now(), Status: RunRunning}
	s.store.AppendRun(job.ID, run)

	checker, err := s.registry.Get(job.Type)
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		run.EndedAt = time.Now()
		s.finishJob(job, run)
		return run
	}

	triggers, err := checker.Check(ctx, job.Config)
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		run.EndedAt = time.Now()
		s.finishJob(job, run)
		return run
	}

	seen := make(map[string]bool, len(triggers))
	for _, k := range s.store.SeenSet(job.ID) {
		seen[k] = true
	}
	var fresh []Trigger
	for _, t := range triggers {
		if !seen[t.DedupeKey] {
			fresh = append(fresh, t)
		}
	}

	var newKeys []string
	var firstSessionID string
	var spawnErrs []string
	for _, t := range fresh {
		sessionID, err := s.launcher.Create(ctx, launcher.CreateOptions{
			Model:          job.Model,
			PermissionMode: job.PermissionMode,
			Cwd:            t.Cwd,
			SessionName:    t.SessionName,
		})
		if err != nil {
			spawnErrs = append(spawnErrs, err.Error())
			s.logger.Warn("spawn session for trigger failed", "job_id", job.ID, "dedupe_key", t.DedupeKey, "error", err)
			continue
		}
		if firstSessionID == "" {
			firstSessionID = sessionID
		}
		if sess, ok := s.bridge.Get(sessionID); ok {
			if err := s.bridge.SeedMessage(sess, t.SeedPrompt); err != nil {
				s.logger.Warn("seed message failed", "job_id", job.ID, "session_id", sessionID, "error", err)
			}
		}
		newKeys = append(newKeys, t.DedupeKey)
	}
	s.store.AddSeenKeys(job.ID, newKeys)

	run.EndedAt = time.Now()
	run.TriggerCount = len(fresh)
	run.FirstSessionID = firstSessionID
	run.Status = RunCompleted
	if len(spawnErrs) > 0 {
		run.Error = fmt.Sprintf("%d of %d triggers failed to spawn", len(spawnErrs), len(fresh))
	}
	run.Summary = fmt.Sprintf("%d trigger(s), %d new", len(triggers), len(fresh))

	s.finishJob(job, run)
	return run
}

func (s *Scheduler) finishJob(job Job, run Run) {
	s.store.AppendRun(job.ID, run)
	job.LastRunAt = time.Now()
	job.UpdatedAt = job.LastRunAt
	s.store.Put(job)
}
