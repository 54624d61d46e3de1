package account

import (
	"net/http"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
)

// IdentityHeader carries the signed-in customer's email.
const IdentityHeader = "mailaccount"

var errMissingIdentity = handler.NewHTTPError(http.StatusUnauthorized, "Unauthorized. Token is missing.")

// Context is the handler context of the authenticated dashboard routes.
type Context interface {
	handler.Context
	// Email is the normalized caller email, empty when the header is absent.
	Email() string
}

type dashboardContext struct {
	handler.Context
	email string
}

func (c *dashboardContext) Email() string { return c.email }

func newContext(w http.ResponseWriter, r *http.Request) Context {
	return &dashboardContext{
		Context: handler.NewContext(w, r),
		email:   entitlement.NormalizeEmail(r.Header.Get(IdentityHeader)),
	}
}

func requireAccount[R any]() handler.Decorator[Context, R] {
	return func(next handler.HandlerFunc[Context, R]) handler.HandlerFunc[Context, R] {
		return func(ctx Context, req R) handler.Response {
			if ctx.Email() == "" {
				return handler.Error(errMissingIdentity)
			}
			return next(ctx, req)
		}
	}
}
