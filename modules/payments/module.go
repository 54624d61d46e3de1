// Package payments mounts the processor-facing HTTP routes: hosted checkout
// entry points, success callbacks, webhook receivers and the admin sweep
// trigger.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/catalog"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

// Config holds the redirect targets and the admin secret.
type Config struct {
	ThankYouURL string `env:"APP_THANK_YOU_URL" envDefault:"https://omnilead.pro/thankyou.html"`
	CancelURL   string `env:"APP_CANCEL_URL" envDefault:"https://www.omnilead.pro/"`
	AdminAPIKey string `env:"ADMIN_API_KEY"`
}

// CardProcessor is the part of the Stripe adapter the routes use.
type CardProcessor interface {
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	CompleteCheckout(ctx context.Context, sessionID, planID string) (*billing.Subscription, error)
	ParseWebhook(ctx context.Context, header http.Header, payload []byte) (*billing.WebhookEvent, error)
}

// WalletProcessor is the part of the PayPal adapter the routes use.
type WalletProcessor interface {
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	CompleteApproval(ctx context.Context, subscriptionID, token, planID string) (*billing.Subscription, error)
	ParseWebhook(ctx context.Context, header http.Header, payload []byte) (*billing.WebhookEvent, error)
}

// Syncer feeds processor state into the reconciliation engine.
type Syncer interface {
	SyncSubscription(ctx context.Context, sub *billing.Subscription, source reconcile.Source) (reconcile.Result, error)
	ApplyWebhook(ctx context.Context, ev *billing.WebhookEvent) (*reconcile.Result, error)
}

// Sweeper runs the full reconciliation pass.
type Sweeper interface {
	Start(ctx context.Context) error
	SweepAll(ctx context.Context) (reconcile.SweepReport, error)
}

// Module serves the billing routes. Processors that are not configured
// have no routes.
type Module struct {
	cfg     Config
	syncer  Syncer
	stripe  CardProcessor
	paypal  WalletProcessor
	sweeper Sweeper
	log     *slog.Logger

	textErrors handler.ErrorHandler[handler.Context]
	jsonErrors handler.ErrorHandler[handler.Context]
}

// Option configures a Module.
type Option func(*Module)

func WithStripe(p CardProcessor) Option {
	return func(m *Module) { m.stripe = p }
}

func WithPayPal(p WalletProcessor) Option {
	return func(m *Module) { m.paypal = p }
}

// WithSweeper enables the admin trigger. It also needs Config.AdminAPIKey.
func WithSweeper(s Sweeper) Option {
	return func(m *Module) { m.sweeper = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates the module.
func New(cfg Config, syncer Syncer, opts ...Option) *Module {
	m := &Module{cfg: cfg, syncer: syncer, log: logger.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("billing_http"))
	m.textErrors = handler.NewErrorHandler(m.log, handler.WithPlainText())
	m.jsonErrors = handler.NewErrorHandler(m.log)
	return m
}

// Handle returns the module router.
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()
	m.Routes(r)
	return r
}

// Routes registers the module routes on r.
func (m *Module) Routes(r chi.Router) {
	r.Get("/cancel", handler.Wrap(m.cancel))

	if m.stripe != nil {
		r.Get("/subscribe", handler.Wrap(m.subscribe,
			handler.WithBinders[handler.Context, checkoutRequest](bindQuery),
			handler.WithErrorHandler[handler.Context, checkoutRequest](m.textErrors),
		))
		r.Get("/success", handler.Wrap(m.success,
			handler.WithBinders[handler.Context, successRequest](bindQuery),
			handler.WithErrorHandler[handler.Context, successRequest](m.textErrors),
		))
		r.Post("/webhook", handler.Wrap(m.stripeWebhook,
			handler.WithBinders[handler.Context, webhookRequest](bindWebhook),
			handler.WithErrorHandler[handler.Context, webhookRequest](m.textErrors),
		))
	}

	if m.paypal != nil {
		r.Get("/paypal/subscribe", handler.Wrap(m.paypalSubscribe,
			handler.WithBinders[handler.Context, checkoutRequest](bindQuery),
			handler.WithErrorHandler[handler.Context, checkoutRequest](m.textErrors),
		))
		r.Get("/paypal/success", handler.Wrap(m.paypalSuccess,
			handler.WithBinders[handler.Context, paypalSuccessRequest](bindQuery),
			handler.WithErrorHandler[handler.Context, paypalSuccessRequest](m.textErrors),
		))
		r.Post("/paypal-webhook", handler.Wrap(m.paypalWebhook,
			handler.WithBinders[handler.Context, webhookRequest](bindWebhook),
			handler.WithErrorHandler[handler.Context, webhookRequest](m.textErrors),
		))
	}

	if m.sweeper != nil && m.cfg.AdminAPIKey != "" {
		sweep := handler.Wrap(m.checkSubscriptions,
			handler.WithBinders[handler.Context, sweepRequest](bindQuery),
			handler.WithDecorators(requireAPIKey[sweepRequest](m.cfg.AdminAPIKey)),
			handler.WithErrorHandler[handler.Context, sweepRequest](m.jsonErrors),
		)
		r.Get("/api/admin/check-subscriptions", sweep)
		r.Post("/api/admin/check-subscriptions", sweep)
	}
}

// httpError maps the domain error taxonomy onto client-facing errors.
func httpError(err error) error {
	var he handler.HTTPError
	switch {
	case errors.As(err, &he):
		return err
	case errors.Is(err, catalog.ErrUnknownPlan):
		return handler.NewHTTPError(http.StatusBadRequest, "Invalid plan!").Wrap(err)
	case errors.Is(err, billing.ErrMissingSubscriptionID):
		return handler.NewHTTPError(http.StatusBadRequest, "Missing subscription details").Wrap(err)
	case errors.Is(err, reconcile.ErrInvalidEvent):
		return handler.NewHTTPError(http.StatusBadRequest, "Missing required data from payment processor.").Wrap(err)
	case errors.Is(err, billing.ErrNotFound):
		return handler.NewHTTPError(http.StatusNotFound, "Subscription not found.").Wrap(err)
	case errors.Is(err, billing.ErrProcessorUnavailable):
		return handler.NewHTTPError(http.StatusInternalServerError, "Payment processor unavailable. Please try again later.").Wrap(err)
	case errors.Is(err, reconcile.ErrPersistenceFailure):
		return handler.NewHTTPError(http.StatusInternalServerError, "Error saving subscription data.").Wrap(err)
	}
	return handler.NewHTTPError(http.StatusInternalServerError, "An unexpected error occurred.").Wrap(err)
}
