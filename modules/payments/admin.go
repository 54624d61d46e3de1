package payments

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

// APIKeyHeader carries the admin secret.
const APIKeyHeader = "X-API-Key"

var errUnauthorized = handler.NewHTTPError(http.StatusUnauthorized, "Unauthorized")

type sweepRequest struct {
	// Wait runs the sweep inside the request and returns its report.
	Wait bool `query:"wait"`
}

type sweepStatus struct {
	Status string                 `json:"status"`
	Report *reconcile.SweepReport `json:"report,omitempty"`
}

func requireAPIKey[R any](key string) handler.Decorator[handler.Context, R] {
	return func(next handler.HandlerFunc[handler.Context, R]) handler.HandlerFunc[handler.Context, R] {
		return func(ctx handler.Context, req R) handler.Response {
			got := ctx.Request().Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return handler.Error(errUnauthorized)
			}
			return next(ctx, req)
		}
	}
}

func (m *Module) checkSubscriptions(ctx handler.Context, req sweepRequest) handler.Response {
	if req.Wait {
		report, err := m.sweeper.SweepAll(ctx)
		if errors.Is(err, reconcile.ErrSweepInProgress) {
			return handler.JSON(sweepStatus{Status: "already_running"}, handler.WithJSONStatus(http.StatusConflict))
		}
		if err != nil {
			return handler.Error(handler.NewHTTPError(http.StatusInternalServerError, "Failed to check subscriptions").Wrap(err))
		}
		return handler.JSON(sweepStatus{Status: "completed", Report: &report})
	}

	err := m.sweeper.Start(ctx)
	switch {
	case errors.Is(err, reconcile.ErrSweepInProgress):
		return handler.JSON(sweepStatus{Status: "already_running"}, handler.WithJSONStatus(http.StatusAccepted))
	case err != nil:
		return handler.Error(handler.NewHTTPError(http.StatusInternalServerError, "Failed to check subscriptions").Wrap(err))
	}
	m.log.InfoContext(ctx, "manual sweep started")
	return handler.JSON(sweepStatus{Status: "started"}, handler.WithJSONStatus(http.StatusAccepted))
}
