package payments

import (
	"cmp"
	"context"
	"net/http"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/pkg/binder"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

var bindQuery = binder.Query()

var (
	errMissingPlan    = handler.NewHTTPError(http.StatusBadRequest, "Missing plan ID!")
	errMissingSession = handler.NewHTTPError(http.StatusBadRequest, "Missing checkout session.")
)

// checkoutRequest also accepts planId, the parameter older pricing pages send.
type checkoutRequest struct {
	Plan       string `query:"plan"`
	LegacyPlan string `query:"planId"`
	Email      string `query:"email"`
}

type successRequest struct {
	SessionID string `query:"session_id"`
	Plan      string `query:"plan"`
}

type paypalSuccessRequest struct {
	SubscriptionID string `query:"subscription_id"`
	Token          string `query:"token"`
	Plan           string `query:"plan"`
	LegacyPlan     string `query:"planIdString"`
}

type checkoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
}

func (m *Module) subscribe(ctx handler.Context, req checkoutRequest) handler.Response {
	return m.startCheckout(ctx, m.stripe, req)
}

func (m *Module) paypalSubscribe(ctx handler.Context, req checkoutRequest) handler.Response {
	return m.startCheckout(ctx, m.paypal, req)
}

func (m *Module) startCheckout(ctx handler.Context, p checkoutCreator, req checkoutRequest) handler.Response {
	planID := cmp.Or(req.Plan, req.LegacyPlan)
	if planID == "" {
		return handler.Error(errMissingPlan)
	}

	session, err := p.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		PlanID:        planID,
		CustomerEmail: req.Email,
	})
	if err != nil {
		return handler.Error(httpError(err))
	}
	return handler.Redirect(session.RedirectURL)
}

func (m *Module) success(ctx handler.Context, req successRequest) handler.Response {
	if req.SessionID == "" {
		return handler.Error(errMissingSession)
	}
	sub, err := m.stripe.CompleteCheckout(ctx, req.SessionID, req.Plan)
	if err != nil {
		return handler.Error(httpError(err))
	}
	return m.completeCheckout(ctx, sub)
}

func (m *Module) paypalSuccess(ctx handler.Context, req paypalSuccessRequest) handler.Response {
	planID := cmp.Or(req.Plan, req.LegacyPlan)
	if planID == "" {
		return handler.Error(handler.NewHTTPError(http.StatusBadRequest, "Missing plan ID information"))
	}
	sub, err := m.paypal.CompleteApproval(ctx, req.SubscriptionID, req.Token, planID)
	if err != nil {
		return handler.Error(httpError(err))
	}
	return m.completeCheckout(ctx, sub)
}

// completeCheckout reconciles synchronously, so the buyer only reaches the
// thank-you page once the license exists.
func (m *Module) completeCheckout(ctx handler.Context, sub *billing.Subscription) handler.Response {
	res, err := m.syncer.SyncSubscription(ctx, sub, reconcile.SourceCheckout)
	if err != nil {
		return handler.Error(httpError(err))
	}

	m.log.InfoContext(ctx, "checkout completed",
		logger.SubscriptionID(sub.ID),
		logger.Platform(string(sub.Platform)),
		logger.Email(sub.Email),
		logger.PlanID(sub.PlanID),
	)
	if res.NewCustomer {
		m.log.InfoContext(ctx, "new customer registered", logger.Email(sub.Email))
	}
	return handler.Redirect(m.cfg.ThankYouURL)
}

func (m *Module) cancel(handler.Context, struct{}) handler.Response {
	return handler.Redirect(m.cfg.CancelURL)
}
