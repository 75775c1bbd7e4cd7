package handler

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/peteski22/creatorsync/pkg/response"
)

// readyCheckTimeout bounds each readiness check.
const readyCheckTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks  map[string]CheckFunc
	now     func() time.Time
	started time.Time
	version string
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Version       string    `json:"version"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Checks    []Check   `json:"checks"`
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// Check represents an individual readiness check.
type Check struct {
	Error  string `json:"error,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// NewHealthHandler creates a health handler running the given named readiness checks.
func NewHealthHandler(version string, checks map[string]CheckFunc) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		now:     time.Now,
		started: time.Now(),
		version: version,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	now := h.now()

	w.Header().Set("Cache-Control", "no-store")
	response.OK(w, HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		Version:       h.version,
	})
}

// Ready handles GET /ready. It returns 503 when any dependency check fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make([]Check, 0, len(h.checks))
	ready := true

	for _, name := range slices.Sorted(maps.Keys(h.checks)) {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := h.checks[name](ctx)
		cancel()

		check := Check{Name: name, Status: "ok"}
		if err != nil {
			ready = false
			check.Status = "failed"
			check.Error = err.Error()
		}
		checks = append(checks, check)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-store")
	response.JSON(w, status, ReadyResponse{
		Checks:    checks,
		Ready:     ready,
		Timestamp: h.now().UTC(),
	})
}
