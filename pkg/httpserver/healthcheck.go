package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/omnibill/pkg/logger"
)

// Check is a named readiness dependency.
type Check struct {
	Name  string
	Check func(context.Context) error
}

// HealthCheckHandler reports "ok" when every check passes and 503 with the
// failing check's name otherwise. Without checks it is a liveness probe.
func HealthCheckHandler(log *slog.Logger, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		for _, c := range checks {
			if err := c.Check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed",
					slog.String("check", c.Name),
					logger.Error(err),
				)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable","check":"` + c.Name + `"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}
