// Package audit implements the optional, durable audit log (spec.md's
// supplemented audit trail: enabled by AUDIT_DSN, never a source of truth for
// live session state). It subscribes to internal/eventbus and appends every
// event on the bus (in this program, log.entry events) to a SQL table,
// queryable after the fact.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fossclaw/fossclaw/internal/eventbus"
)

// Event is a single append-only audit record.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the persistence interface for the audit log. Both backends below
// implement it.
type Store interface {
	LogEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, limit, offset int) ([]Event, error)
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open selects a backend from dsn's scheme: "postgres://"/"postgresql://" use
// PostgreSQL, anything else (a file path or ":memory:") uses SQLite. Mirrors the
// driver-selection-by-DSN convention a caller would expect from any dual-backend
// store.
func Open(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return newPostgres(dsn)
	}
	return newSQLite(dsn)
}

// sessionOrJobID extracts whichever correlation ID is present on the event's
// JSON payload, best-effort.
func sessionOrJobID(data json.RawMessage) (sessionID, jobID string) {
	if len(data) == 0 {
		return "", ""
	}
	var probe struct {
		SessionID string `json:"sessionId"`
		JobID     string `json:"jobId"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.SessionID, probe.JobID
}

// Tail subscribes to bus and writes every event to store until ctx is done.
// Write failures are logged, never fatal: the audit log is diagnostic, not a
// dependency of live sessions (spec.md error-handling design, "Storage" kind).
func Tail(ctx context.Context, bus *eventbus.Bus, store Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sessionID, jobID := sessionOrJobID(ev.Data)
			rec := &Event{
				ID:        uuid.NewString(),
				Type:      ev.Type,
				SessionID: sessionID,
				JobID:     jobID,
				Detail:    ev.Data,
				CreatedAt: ev.Timestamp,
			}
			if err := store.LogEvent(ctx, rec); err != nil {
				logger.Warn("audit log write failed", "type", ev.Type, "error", err)
			}
		}
	}
}
