package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/josh-kwaku/travel-booking-api/internal/logging"
)

const readinessTimeout = 3 * time.Second

// Probe reports whether one dependency is reachable.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	probes []Probe
	now    func() time.Time
}

func NewHealthHandler(probes ...Probe) *HealthHandler {
	return &HealthHandler{probes: probes, now: time.Now}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "travel-booking-api",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Readiness runs every probe and answers 503 if any of them fails.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	status, overall := http.StatusOK, "ok"
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("readiness probe failed", "probe", p.Name, "error", err)
			checks[p.Name] = "down"
			status, overall = http.StatusServiceUnavailable, "down"
			continue
		}
		checks[p.Name] = "ok"
	}

	RespondJSON(w, status, map[string]any{
		"status":    overall,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
