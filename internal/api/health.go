package api

import (
	"context"
	"net/http"
	"time"

	"github.com/auslex/auslex/internal/log"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler answers liveness probes. It never touches dependencies.
func healthHandler(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyHandler answers readiness probes by pinging the database.
func readyHandler(pinger Pinger, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			writeError(w, logger, http.StatusServiceUnavailable, "not_ready", "database unreachable")
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ready"})
	}
}
