// Package httpapi implements the bridge's HTTP surface (spec §6.2): health,
// cookie auth, session CRUD/resume, update checks, and cron job management, plus
// the two websocket upgrade endpoints backed by internal/bridge.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fossclaw/fossclaw/internal/adapter/sse"
	"github.com/fossclaw/fossclaw/internal/auth"
	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/cron"
	"github.com/fossclaw/fossclaw/internal/launcher"
)

const cookieName = "fossclaw_session"

// UpdateChecker is the optional collaborator behind GET/POST /updates/*. When
// nil, those endpoints return 501 (spec §6.2 "missing optional collaborators").
type UpdateChecker interface {
	Check() (latestVersion string, downloadURL string, updateAvailable bool, err error)
	Install() error
}

// Config configures the Server.
type Config struct {
	Version        string
	AllowedOrigins []string
	RateLimit      RateLimitConfig

	// SSEAdapterURL is the base URL of the sse-adapter provider's upstream HTTP
	// server (spec §4.3.1; conventionally ALT_PROVIDER_PORT). Empty disables the
	// sse-adapter provider.
	SSEAdapterURL string
	// RPCAdapterURL is the websocket URL the rpc-adapter provider dials, one
	// connection per session (spec §4.3.2). Empty disables the rpc-adapter
	// provider.
	RPCAdapterURL string
}

// RateLimitConfig tunes the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = "dev"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// Server is the bridge's HTTP API server.
type Server struct {
	cfg       Config
	bridge    *bridge.Bridge
	launcher  *launcher.Launcher
	auth      *auth.Service
	scheduler *cron.Scheduler
	cronStore *cron.Store
	updates   UpdateChecker
	logger    *slog.Logger

	startTime time.Time
	mux       *chi.Mux
	loginRL   *keyedLimiter
	rl        *keyedLimiter

	sseAdapter  *sse.Adapter
	rpcAdapters *rpcAdapters
}

// New constructs a Server and wires its full route table. updates may be nil.
func New(cfg Config, br *bridge.Bridge, l *launcher.Launcher, authSvc *auth.Service, sched *cron.Scheduler, cronStore *cron.Store, updates UpdateChecker, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:         cfg,
		bridge:      br,
		launcher:    l,
		auth:        authSvc,
		scheduler:   sched,
		cronStore:   cronStore,
		updates:     updates,
		logger:      logger.With("component", "httpapi"),
		startTime:   time.Now(),
		loginRL:     newKeyedLimiter(1, 5),
		rl:          newKeyedLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		rpcAdapters: newRPCAdapters(),
	}

	if cfg.SSEAdapterURL != "" {
		s.sseAdapter = sse.New(sse.Config{BaseURL: cfg.SSEAdapterURL}, br, logger)
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.AllowedOrigins))

	mux.Get("/api/health", s.handleHealth)
	mux.With(loginRateLimitMiddleware(s.loginRL)).Post("/api/auth/login", s.handleLogin)
	mux.Post("/api/auth/logout", s.handleLogout)
	mux.Get("/api/auth/status", s.handleAuthStatus)
	mux.Get("/api/updates/check", s.handleUpdatesCheck)
	mux.Post("/api/updates/install", s.handleUpdatesInstall)

	mux.Get("/ws/agent/{sessionID}", s.handleAgentSocket)

	mux.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(rateLimitMiddleware(s.rl))

		r.Get("/ws/browser/{sessionID}", s.handleBrowserSocket)

		r.Post("/api/sessions/create", s.handleCreateSession)
		r.Get("/api/sessions", s.handleListSessions)
		r.Get("/api/sessions/{sessionID}", s.handleGetSession)
		r.Delete("/api/sessions/{sessionID}", s.handleDeleteSession)
		r.Post("/api/sessions/{sessionID}/kill", s.handleKillSession)
		r.Post("/api/sessions/{sessionID}/resume", s.handleResumeSession)
		r.Patch("/api/sessions/{sessionID}/name", s.handleRenameSession)

		r.Get("/api/cron/status", s.handleCronStatus)
		r.Get("/api/cron/jobs", s.handleListJobs)
		r.Post("/api/cron/jobs", s.handleCreateJob)
		r.Get("/api/cron/jobs/{jobID}", s.handleGetJob)
		r.Patch("/api/cron/jobs/{jobID}", s.handleUpdateJob)
		r.Delete("/api/cron/jobs/{jobID}", s.handleDeleteJob)
		r.Post("/api/cron/jobs/{jobID}/toggle", s.handleToggleJob)
		r.Post("/api/cron/jobs/{jobID}/trigger", s.handleTriggerJob)
		r.Get("/api/cron/jobs/{jobID}/runs", s.handleJobRuns)
		r.Post("/api/cron/jobs/{jobID}/reset", s.handleResetJob)
	})

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for the whole API surface.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks runs periodic rate-limiter cleanup until done is closed.
func (s *Server) StartBackgroundTasks(done <-chan struct{}) {
	go s.loginRL.startCleanup(done, 5*time.Minute)
	go s.rl.startCleanup(done, 5*time.Minute)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  time.Since(s.startTime).Seconds(),
	})
}
