// Package account mounts the customer dashboard API. The dashboard front
// end identifies the signed-in customer with the mailaccount header.
package account

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/pkg/binder"
	"github.com/dmitrymomot/omnibill/pkg/clientip"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/pkg/ratelimiter"
	"github.com/dmitrymomot/omnibill/svc/account"
)

// Config holds dashboard route settings.
type Config struct {
	PortalReturnURL string `env:"PORTAL_RETURN_URL" envDefault:"https://web.omnilead.pro/public/dashboard.html"`
}

// Dashboard is the account service as seen by the routes.
type Dashboard interface {
	Login(ctx context.Context, email, password string) (*account.LoginResult, error)
	ChangePassword(ctx context.Context, email, current, next string) error
	Details(ctx context.Context, email string) (*account.Details, error)
	Subscriptions(ctx context.Context, email string) ([]account.SubscriptionView, error)
	CancelPayPal(ctx context.Context, email, subscriptionID string) error
	PayPalManageURL(ctx context.Context, email string) (string, error)
	StripePortal(ctx context.Context, email, returnURL string) (string, error)
	AvailableSoftware(ctx context.Context, email string) ([]account.SoftwareAccess, error)
}

// Module serves the dashboard routes.
type Module struct {
	cfg     Config
	svc     Dashboard
	limiter ratelimiter.Limiter
	log     *slog.Logger
	errors  handler.ErrorHandler[handler.Context]
}

// Option configures a Module.
type Option func(*Module)

func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// WithLimiter throttles the credential routes per client address.
func WithLimiter(l ratelimiter.Limiter) Option {
	return func(m *Module) { m.limiter = l }
}

// New creates the module.
func New(cfg Config, svc Dashboard, opts ...Option) *Module {
	m := &Module{cfg: cfg, svc: svc, log: logger.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("dashboard_http"))
	m.errors = handler.NewErrorHandler(m.log)
	return m
}

var bindJSON = binder.JSON()

// Handle returns the module router.
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()
	m.Routes(r)
	return r
}

// Routes registers the module routes on r.
func (m *Module) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if m.limiter != nil {
			r.Use(ratelimiter.Middleware(m.limiter, throttleKey, http.HandlerFunc(m.throttled)))
		}
		r.Post("/login", handler.Wrap(m.login,
			handler.WithBinders[handler.Context, loginRequest](bindJSON),
			handler.WithErrorHandler[handler.Context, loginRequest](m.handleError),
		))
		r.Post("/api/change-password", authorized(m, m.changePassword, bindJSON))
	})

	r.Get("/api/user-details", authorized(m, m.details))
	r.Get("/api/user-subscriptions", authorized(m, m.subscriptions))
	r.Get("/api/available-softwares", authorized(m, m.availableSoftware))
	r.Post("/paypal/cancel-subscription", authorized(m, m.cancelPayPal, bindJSON))
	r.Get("/paypal/manage-subscription", authorized(m, m.managePayPal))
	r.Get("/customers", authorized(m, m.customerPortal))
}

// authorized wraps a route that needs the caller's identity.
func authorized[R any](m *Module, h handler.HandlerFunc[Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithContextFactory[Context, R](newContext),
		handler.WithDecorators(requireAccount[R]()),
		handler.WithBinders[Context, R](binders...),
		handler.WithErrorHandler[Context, R](func(ctx Context, err error) {
			m.handleError(ctx, err)
		}),
	)
}

func (m *Module) handleError(ctx handler.Context, err error) {
	m.errors(ctx, httpError(err))
}

// throttleKey gives each credential route its own bucket per client.
func throttleKey(r *http.Request) string {
	ip := clientip.FromContext(r.Context())
	if ip == "" {
		ip = clientip.GetIP(r)
	}
	if ip == "" {
		return ""
	}
	return r.URL.Path + ":" + ip
}

func (m *Module) throttled(w http.ResponseWriter, r *http.Request) {
	m.log.WarnContext(r.Context(), "credential route throttled",
		slog.String("ip", clientip.GetIP(r)),
		slog.String("path", r.URL.Path),
	)
	_ = handler.JSONError(handler.ErrTooManyRequests.Code, handler.ErrTooManyRequests.Message).Render(w, r)
}
