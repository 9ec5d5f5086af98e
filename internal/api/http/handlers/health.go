package handlers

import (
	"context"
	"net/http"
	"time"

	"marketsales/pkg/httputil"

	"gitlab.com/nevasik7/alerting/logger"
)

// DependencyChecker reports whether optional collaborators (redis, nats,
// clickhouse) are reachable.
type DependencyChecker interface {
	CheckDependency(ctx context.Context) error
}

type Health struct {
	log     logger.Logger
	checker DependencyChecker // may be nil when nothing optional is wired
}

func NewHealth(log logger.Logger, checker DependencyChecker) *Health {
	return &Health{log: log, checker: checker}
}

func (h *Health) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Health) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		_ = httputil.JSON(w, http.StatusOK, map[string]string{"dependencies": "none"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.checker.CheckDependency(ctx); err != nil {
		if err = httputil.Error(w, r, http.StatusServiceUnavailable, "dependencies_unhealthy", err.Error()); err != nil {
			h.log.Errorf("Readiness handler error: %v", err)
		}
		return
	}

	_ = httputil.JSON(w, http.StatusOK, map[string]string{"dependencies": "healthy"})
}
