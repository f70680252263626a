// Package launcher implements the agent launcher: it spawns native agent child
// processes, tracks their lifecycle, and resumes archived sessions (spec §4.2).
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fossclaw/fossclaw/internal/bridge"
)

// LifecycleState is the launcher record's lifecycle state.
type LifecycleState string

const (
	StateStarting  LifecycleState = "starting"
	StateConnected LifecycleState = "connected"
	StateRunning   LifecycleState = "running"
	StateExited    LifecycleState = "exited"
)

// Record is the launcher's per-live-agent bookkeeping (spec §3 "Launcher record").
type Record struct {
	SessionID      string
	PID            int
	Model          string
	PermissionMode string
	Provider       string // native | sse-adapter | rpc-adapter
	Cwd            string
	CreatedAt      time.Time
	LastActivityAt time.Time
	SessionName    string
	State          LifecycleState
}

// SpawnFunc builds the *exec.Cmd for a native launch, given the session id, the
// agent-side socket URL the child should dial, the working directory, and an
// optional resume-from session id.
type SpawnFunc func(sessionID, socketURL, cwd, resumeSessionID string) (*exec.Cmd, error)

// Launcher tracks every live agent and spawns/kills native child processes.
type Launcher struct {
	mu      sync.Mutex
	records map[string]*Record
	cmds    map[string]*exec.Cmd
	exited  map[string]chan struct{} // closed by supervise once cmd.Wait() returns

	bridge     *bridge.Bridge
	spawn      SpawnFunc
	socketURL  func(sessionID string) string
	baseCwd    string
	graceWait  time.Duration
	onNotify   func(record Record) // store.SaveMeta-style notification hook
	logger     *slog.Logger
}

// New constructs a Launcher.
func New(br *bridge.Bridge, spawn SpawnFunc, socketURL func(string) string, baseCwd string, onNotify func(Record), logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		records:   make(map[string]*Record),
		cmds:      make(map[string]*exec.Cmd),
		exited:    make(map[string]chan struct{}),
		bridge:    br,
		spawn:     spawn,
		socketURL: socketURL,
		baseCwd:   baseCwd,
		graceWait: 5 * time.Second,
		onNotify:  onNotify,
		logger:    logger.With("component", "launcher"),
	}
}

// CreateOptions configures a new native-provider session.
type CreateOptions struct {
	Model           string
	PermissionMode  string
	Cwd             string
	SessionName     string
	ResumeSessionID string
}

// Create spawns a new native agent process and registers its session with the
// bridge. Returns the new session id.
func (l *Launcher) Create(ctx context.Context, opts CreateOptions) (string, error) {
	sessionID := bridge.NewSessionID()
	cwd := opts.Cwd
	if cwd == "" {
		cwd = l.baseCwd
	}

	s := l.bridge.CreateSession(sessionID, "native")
	if opts.SessionName != "" {
		s.SetSessionName(opts.SessionName)
	}

	rec := &Record{
		SessionID:      sessionID,
		Model:          opts.Model,
		PermissionMode: opts.PermissionMode,
		Provider:       "native",
		Cwd:            cwd,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
		SessionName:    opts.SessionName,
		State:          StateStarting,
	}

	cmd, err := l.spawn(sessionID, l.socketURL(sessionID), cwd, opts.ResumeSessionID)
	if err != nil {
		l.bridge.Remove(sessionID)
		return "", fmt.Errorf("spawn agent: %w", err)
	}
	if err := cmd.Start(); err != nil {
		l.bridge.Remove(sessionID)
		return "", fmt.Errorf("start agent process: %w", err)
	}
	if cmd.Process != nil {
		rec.PID = cmd.Process.Pid
	}

	exitCh := make(chan struct{})

	l.mu.Lock()
	l.records[sessionID] = rec
	l.cmds[sessionID] = cmd
	l.exited[sessionID] = exitCh
	l.mu.Unlock()

	l.notify(*rec)

	go l.supervise(sessionID, cmd, exitCh)

	return sessionID, nil
}

// supervise owns the single cmd.Wait() call for sessionID's process. Kill
// coordinates through exitCh rather than calling cmd.Wait() itself, since a
// second concurrent Wait call returns immediately with an error instead of
// blocking, which would defeat the grace-period escalation.
func (l *Launcher) supervise(sessionID string, cmd *exec.Cmd, exitCh chan struct{}) {
	err := cmd.Wait()
	close(exitCh)

	l.mu.Lock()
	rec, ok := l.records[sessionID]
	if ok {
		rec.State = StateExited
	}
	delete(l.cmds, sessionID)
	delete(l.exited, sessionID)
	l.mu.Unlock()

	if err != nil {
		l.logger.Info("agent process exited", "session_id", sessionID, "error", err)
	} else {
		l.logger.Info("agent process exited", "session_id", sessionID)
	}

	if ok {
		l.notify(*rec)
	}

	if s, found := l.bridge.Get(sessionID); found {
		l.bridge.DetachAgent(s, true)
	}
}

// MarkConnected transitions a record from starting to connected, approximating
// spec.md's "connected on first frame observed" at the point the agent socket is
// accepted (the launcher cannot see individual frames; the bridge does).
func (l *Launcher) MarkConnected(sessionID string) {
	l.mu.Lock()
	rec, ok := l.records[sessionID]
	if ok && rec.State == StateStarting {
		rec.State = StateConnected
	}
	l.mu.Unlock()
	if ok {
		l.notify(*rec)
	}
}

// Touch updates a record's last-activity-at timestamp, forwarded from the bridge's
// activity callback (spec §4.1 "Activity tracking").
func (l *Launcher) Touch(sessionID string, at time.Time) {
	l.mu.Lock()
	rec, ok := l.records[sessionID]
	if ok {
		rec.LastActivityAt = at
	}
	l.mu.Unlock()
	if ok {
		l.notify(*rec)
	}
}

// Get returns the launcher record for a session, if it has one live.
func (l *Launcher) Get(sessionID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[sessionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns every tracked record.
func (l *Launcher) List() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	return out
}

// Kill requests graceful termination, escalating to forced termination after a
// grace period (spec §4.2 "Kill").
func (l *Launcher) Kill(sessionID string) error {
	l.mu.Lock()
	cmd, ok := l.cmds[sessionID]
	exitCh, exitOk := l.exited[sessionID]
	l.mu.Unlock()
	if !ok || cmd.Process == nil || !exitOk {
		return fmt.Errorf("no live process for session %s", sessionID)
	}

	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-exitCh:
		return nil
	case <-time.After(l.graceWait):
		_ = cmd.Process.Kill()
		<-exitCh
		return nil
	}
}

// Resume creates a new session id and spawns the agent with a resume-from flag set
// to priorSessionID. The prior session's history is retained for user reference but
// is not replayed to the child (spec §4.2 "Resume").
func (l *Launcher) Resume(ctx context.Context, priorSessionID string, opts CreateOptions) (string, error) {
	prior, ok := l.bridge.Get(priorSessionID)
	if !ok {
		return "", fmt.Errorf("no persisted data for session %s", priorSessionID)
	}
	if prior.HasAgent() {
		return "", fmt.Errorf("session %s is still running", priorSessionID)
	}
	opts.ResumeSessionID = priorSessionID
	return l.Create(ctx, opts)
}

// RemoveSession stops tracking a session's launcher record (it may still be killed
// first by the caller).
func (l *Launcher) RemoveSession(sessionID string) {
	l.mu.Lock()
	delete(l.records, sessionID)
	delete(l.cmds, sessionID)
	delete(l.exited, sessionID)
	l.mu.Unlock()
}

func (l *Launcher) notify(rec Record) {
	if l.onNotify != nil {
		l.onNotify(rec)
	}
}
