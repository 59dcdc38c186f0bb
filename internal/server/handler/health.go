package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	factory common.Address
	now     func() time.Time
	checks  map[string]HealthCheck
}

// NewHealthHandler creates a HealthHandler reporting the factory address
// and the chain clock.
func NewHealthHandler(factory common.Address, now func() time.Time) *HealthHandler {
	if now == nil {
		now = time.Now
	}
	return &HealthHandler{factory: factory, now: now, checks: make(map[string]HealthCheck)}
}

// WithCheck registers a dependency probe reported under name.
func (h *HealthHandler) WithCheck(name string, check HealthCheck) *HealthHandler {
	h.checks[name] = check
	return h
}

// HealthCheck reports liveness plus the result of every registered probe.
// Any failing probe turns the response into a 503 with status "degraded".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":    status,
		"factory":   h.factory.Hex(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	writeJSON(w, code, body)
}
