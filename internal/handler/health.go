package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/config"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
	live   func() int
}

// NewHealthHandler reports dependency health. live, if set, returns the
// number of sessions currently holding an adapter.
func NewHealthHandler(checks map[string]HealthCheck, live func() int) *HealthHandler {
	return &HealthHandler{checks: checks, live: live}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("health check failed")
			results[name] = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{
		"status":    "ok",
		"checks":    results,
		"timestamp": time.Now().UnixMilli(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.live != nil {
		body["liveSessions"] = h.live()
	}

	writeJSON(w, status, body)
}
