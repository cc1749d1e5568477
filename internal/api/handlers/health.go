// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/burns238/dms-submission/internal/config"
)

// ReadinessChecker — проверка готовности зависимости (PostgreSQL).
type ReadinessChecker interface {
	CheckReady(ctx context.Context) (status, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	db      ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(db ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		db:      db,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "dms-submission",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет доступность PostgreSQL.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	dbStatus, dbMessage := h.db.CheckReady(r.Context())

	httpStatus := http.StatusOK
	overall := "ok"
	if dbStatus != "ok" {
		httpStatus = http.StatusServiceUnavailable
		overall = "fail"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"checks": map[string]any{
			"postgresql": map[string]string{
				"status":  dbStatus,
				"message": dbMessage,
			},
		},
	})
}
