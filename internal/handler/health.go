package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type backlogReader interface {
	Backlog(ctx context.Context) (*domain.OutboxBacklog, error)
}

type HealthHandler struct {
	db     *sql.DB
	bus    pinger
	outbox backlogReader
}

// NewHealthHandler builds the health endpoints. bus is nil when events go to
// the log, and outbox may be nil in tests.
func NewHealthHandler(db *sql.DB, bus pinger, outbox backlogReader) *HealthHandler {
	return &HealthHandler{db: db, bus: bus, outbox: outbox}
}

type outboxReport struct {
	Pending          int     `json:"pending"`
	Failed           int     `json:"failed"`
	OldestPendingAge float64 `json:"oldest_pending_age_s"`
}

type readinessReport struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Outbox    *outboxReport     `json:"outbox,omitempty"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness fails only when the database is unreachable. Everything
// downstream of the outbox can lag without losing events, so those checks
// report "degraded" instead.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := readinessReport{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{"database": "ok"},
	}

	if err := h.db.PingContext(ctx); err != nil {
		slog.Warn("readiness check failed: database unreachable", "error", err)
		report.Checks["database"] = "down"
		report.Status = "down"
		RespondJSON(w, http.StatusServiceUnavailable, report)
		return
	}

	if h.bus != nil {
		report.Checks["event_bus"] = "ok"
		if err := h.bus.Ping(ctx); err != nil {
			slog.Warn("readiness check degraded: event bus unreachable", "error", err)
			report.Checks["event_bus"] = "degraded"
		}
	}

	if h.outbox != nil {
		report.Checks["outbox"] = h.checkOutbox(ctx, &report)
	}

	RespondJSON(w, http.StatusOK, report)
}

func (h *HealthHandler) checkOutbox(ctx context.Context, report *readinessReport) string {
	b, err := h.outbox.Backlog(ctx)
	if err != nil {
		slog.Warn("readiness check degraded: outbox backlog unreadable", "error", err)
		return "degraded"
	}

	report.Outbox = &outboxReport{Pending: b.Pending, Failed: b.Failed}
	if b.OldestPending != nil {
		report.Outbox.OldestPendingAge = time.Since(*b.OldestPending).Seconds()
	}

	// Failed events need an operator to requeue them.
	if b.Failed > 0 {
		return "degraded"
	}
	return "ok"
}
