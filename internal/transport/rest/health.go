package rest

import (
	"context"
	"net/http"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/transport/rest/response"
)

// Pinger is the database liveness probe; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker is the broker liveness probe.
type ReadyChecker interface {
	Ready() error
}

// HealthHandler serves the liveness and readiness probes. mq is nil when
// the broker is disabled.
type HealthHandler struct {
	db Pinger
	mq ReadyChecker
}

func NewHealthHandler(db Pinger, mq ReadyChecker) *HealthHandler {
	return &HealthHandler{db: db, mq: mq}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports ready only when every wired dependency answers.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		fail(w, r, http.StatusServiceUnavailable, "not_ready", "database unreachable", nil)
		return
	}
	if h.mq != nil {
		if err := h.mq.Ready(); err != nil {
			fail(w, r, http.StatusServiceUnavailable, "not_ready", "broker connection closed", nil)
			return
		}
	}
	response.Data(w, http.StatusOK, map[string]string{"status": "ready"})
}
