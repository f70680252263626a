// Package app wires together every fossclaw component — bridge, stores,
// launcher, auth, scheduler, HTTP API, naming, event bus, and optional audit —
// into one runnable process, mirroring the way hub/internal/hub ties the hub's
// pieces together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/fossclaw/fossclaw/internal/audit"
	"github.com/fossclaw/fossclaw/internal/auth"
	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/config"
	"github.com/fossclaw/fossclaw/internal/cron"
	"github.com/fossclaw/fossclaw/internal/cron/checkers"
	"github.com/fossclaw/fossclaw/internal/eventbus"
	"github.com/fossclaw/fossclaw/internal/httpapi"
	"github.com/fossclaw/fossclaw/internal/launcher"
	"github.com/fossclaw/fossclaw/internal/naming"
	"github.com/fossclaw/fossclaw/internal/store"
)

// agentCommand is the native agent binary fossclaw spawns for every session
// (spec §4.2 "Native launch"). Overridable for tests.
var agentCommand = envOr("AGENT_COMMAND", "claude")

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// App is the fully-wired fossclaw process.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	bus       *eventbus.Bus
	bridge    *bridge.Bridge
	store     *store.Store
	launcher  *launcher.Launcher
	auth      *auth.Service
	cronStore *cron.Store
	scheduler *cron.Scheduler
	server    *httpapi.Server
	audit     audit.Store
	namer     *naming.Namer
}

// New builds every collaborator and wires them together. It does not start any
// background loop or listener; call Run for that.
func New(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bus := eventbus.New()
	logger = slog.New(eventbus.NewSlogHandler(logger.Handler(), bus))

	sessionStore, err := store.New(cfg.BaseDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}

	namer := naming.New(naming.Config{URL: cfg.NamingURL, Model: cfg.NamingModel}, logger)

	// The launcher needs the bridge, and the bridge's activity callback forwards
	// to the launcher's Touch — a deliberate forward reference, resolved once l
	// is assigned below (spec §4.1 "Activity tracking" / §4.2 "Launcher notifies
	// the store on ... activity updates forwarded from the bridge").
	var l *launcher.Launcher
	onActivity := func(sessionID string, lastActivity time.Time) {
		if l != nil {
			l.Touch(sessionID, lastActivity)
		}
	}

	br := bridge.New(sessionStore, onActivity, namer.Name, logger)

	for _, loaded := range sessionStore.LoadAll() {
		br.RestoreSession(loaded.ID, loaded.Meta.Provider, loaded.Meta, loaded.State, loaded.History)
	}

	spawn := func(sessionID, socketURL, cwd, resumeSessionID string) (*exec.Cmd, error) {
		args := []string{socketURL}
		if resumeSessionID != "" {
			args = append(args, "--resume", resumeSessionID)
		}
		cmd := exec.Command(agentCommand, args...)
		cmd.Dir = cwd
		return cmd, nil
	}
	socketURL := func(sessionID string) string {
		return fmt.Sprintf("ws://127.0.0.1:%d/ws/agent/%s", cfg.Port, sessionID)
	}
	l = launcher.New(br, spawn, socketURL, cfg.BaseCwd, func(launcher.Record) {}, logger)

	creds, generatedPassword, err := auth.LoadOrCreateCredentials(cfg.CredentialsPath(), cfg.User, cfg.Pass)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if generatedPassword != "" {
		fmt.Fprintf(os.Stderr, "generated fossclaw credentials: user=%s pass=%s (see %s)\n",
			creds.Username, generatedPassword, cfg.CredentialsPath())
	}
	authSvc := auth.NewService(creds, cfg.BaseDir()+"/auth-sessions.json", logger)

	cronStore, err := cron.New(cfg.BaseDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("init cron store: %w", err)
	}
	registry := checkers.DefaultRegistry()
	scheduler := cron.NewScheduler(cronStore, registry, l, br, logger)

	var auditStore audit.Store
	if cfg.AuditDSN != "" {
		auditStore, err = audit.Open(cfg.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("init audit store: %w", err)
		}
	}

	srv := httpapi.New(httpapi.Config{
		Version:        version,
		AllowedOrigins: cfg.AllowedOrigins,
		SSEAdapterURL:  fmt.Sprintf("http://127.0.0.1:%d", cfg.AltProviderPort),
		RPCAdapterURL:  fmt.Sprintf("ws://127.0.0.1:%d/rpc", cfg.AltProviderPort),
	}, br, l, authSvc, scheduler, cronStore, nil, logger)

	warnStartup(cfg, creds, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		bridge:    br,
		store:     sessionStore,
		launcher:  l,
		auth:      authSvc,
		cronStore: cronStore,
		scheduler: scheduler,
		server:    srv,
		audit:     auditStore,
		namer:     namer,
	}, nil
}

func warnStartup(cfg *config.Config, creds auth.Credentials, logger *slog.Logger) {
	if creds.Username == "admin" && cfg.Pass == "admin" {
		logger.Warn("default admin credentials detected — change immediately in production")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}
}

// Run starts the HTTP listener, the scheduler loop, and (if configured) the
// audit tail, blocking until ctx is canceled. Mirrors hub.Hub.Run's shutdown
// discipline: bounded graceful drain, then force-close.
func (a *App) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Port),
		Handler: a.server.Handler(),
	}

	a.server.StartBackgroundTasks(ctx.Done())
	go a.auth.StartFlusher(ctx.Done())
	a.server.StartAdapters(ctx)
	go a.scheduler.Run(ctx)
	if a.audit != nil {
		go audit.Tail(ctx, a.bus, a.audit, a.logger)
	}
	if a.cfg.SessionTTLDays > 0 {
		go a.runRetentionPurger(ctx, time.Duration(a.cfg.SessionTTLDays)*24*time.Hour)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("fossclaw listening", "port", a.cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = httpSrv.Close()
		}
		a.store.Flush()
		a.cronStore.Flush()
		if a.audit != nil {
			_ = a.audit.Close()
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Bridge exposes the session bridge, e.g. for the status TUI.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// CronStore exposes the cron job store, e.g. for the status TUI.
func (a *App) CronStore() *cron.Store { return a.cronStore }

// Launcher exposes the agent launcher, e.g. for the status TUI.
func (a *App) Launcher() *launcher.Launcher { return a.launcher }

// EventBus exposes the lifecycle event bus, e.g. for the status TUI's log tail.
func (a *App) EventBus() *eventbus.Bus { return a.bus }

// Port returns the configured listen port.
func (a *App) Port() int { return a.cfg.Port }

// runRetentionPurger removes archived sessions older than ttl (spec §6.4
// SESSION_TTL_DAYS).
func (a *App) runRetentionPurger(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	a.purgeArchivedOlderThan(ttl)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeArchivedOlderThan(ttl)
		}
	}
}

func (a *App) purgeArchivedOlderThan(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	for _, s := range a.bridge.List() {
		if !s.Archived() {
			continue
		}
		if s.LastActivity().After(cutoff) {
			continue
		}
		a.bridge.Remove(s.ID)
		a.store.Remove(s.ID)
		a.logger.Info("retention purge: removed archived session", "session_id", s.ID)
	}
}
