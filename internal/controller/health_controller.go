package controller

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck checks one dependency. Check returns nil when it is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthController struct {
	checks  []HealthCheck
	timeout time.Duration
}

func NewHealthController(checks ...HealthCheck) *HealthController {
	return &HealthController{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness runs every check and reports the first failing dependency.
func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": c.Name + " unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
