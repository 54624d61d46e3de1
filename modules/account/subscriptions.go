package account

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/svc/account"
)

type urlResponse struct {
	URL string `json:"url"`
}

func (m *Module) details(ctx Context, _ struct{}) handler.Response {
	d, err := m.svc.Details(ctx, ctx.Email())
	if errors.Is(err, account.ErrCustomerNotFound) {
		// The dashboard treats a missing profile as a bad identity.
		return handler.Error(handler.NewHTTPError(http.StatusBadRequest, "User not found.").Wrap(err))
	}
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(d)
}

func (m *Module) subscriptions(ctx Context, _ struct{}) handler.Response {
	views, err := m.svc.Subscriptions(ctx, ctx.Email())
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(views)
}

func (m *Module) availableSoftware(ctx Context, _ struct{}) handler.Response {
	list, err := m.svc.AvailableSoftware(ctx, ctx.Email())
	if errors.Is(err, account.ErrSubscriptionsNotFound) {
		return handler.Error(handler.NewHTTPError(http.StatusNotFound, "No subscriptions found.").Wrap(err))
	}
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(list)
}

type cancelRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

func (m *Module) cancelPayPal(ctx Context, req cancelRequest) handler.Response {
	err := m.svc.CancelPayPal(ctx, ctx.Email(), req.SubscriptionID)
	switch {
	case err == nil:
		return handler.JSON(messageResponse{Message: "Subscription successfully cancelled"})
	case errors.Is(err, account.ErrSubscriptionIDRequired), errors.Is(err, account.ErrForbidden):
		return handler.Error(err)
	}
	return handler.Error(handler.NewHTTPError(http.StatusInternalServerError,
		"Failed to cancel PayPal subscription. Please try again later.").Wrap(err))
}

func (m *Module) managePayPal(ctx Context, _ struct{}) handler.Response {
	url, err := m.svc.PayPalManageURL(ctx, ctx.Email())
	switch {
	case err == nil:
		return handler.JSON(urlResponse{URL: url})
	case errors.Is(err, account.ErrSubscriptionsNotFound):
		return handler.Error(handler.NewHTTPError(http.StatusNotFound, "No active PayPal subscriptions found.").Wrap(err))
	}
	return handler.Error(handler.NewHTTPError(http.StatusInternalServerError,
		"Failed to create subscription management URL.").Wrap(err))
}

func (m *Module) customerPortal(ctx Context, _ struct{}) handler.Response {
	url, err := m.svc.StripePortal(ctx, ctx.Email(), m.cfg.PortalReturnURL)
	switch {
	case err == nil:
		return handler.JSON(urlResponse{URL: url})
	case errors.Is(err, account.ErrCustomerNotFound):
		return handler.Error(err)
	}
	return handler.Error(handler.NewHTTPError(http.StatusInternalServerError,
		"Failed to create customer portal session.").Wrap(err))
}
