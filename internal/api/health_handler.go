package api

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/taskqueue/internal/api/shared"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthTimeout bounds the store ping of a health check.
const HealthTimeout = 2 * time.Second

// HealthHandler answers GET /health with "OK", or 503 when the store is
// unreachable.
func HealthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), HealthTimeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Task store unavailable", err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.FromContext(r.Context()).Error("failed to write health check response", "error", err)
		}
	}
}
