package account

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/pkg/auth"
	"github.com/dmitrymomot/omnibill/svc/account"
)

// httpError maps account service errors onto client-facing errors.
func httpError(err error) error {
	var he handler.HTTPError
	switch {
	case errors.As(err, &he):
		return err
	case errors.Is(err, account.ErrAccountNotFound):
		return handler.NewHTTPError(http.StatusBadRequest, "User not found.").Wrap(err)
	case errors.Is(err, account.ErrIncorrectPassword):
		return handler.NewHTTPError(http.StatusBadRequest, "Current password is incorrect.").Wrap(err)
	case errors.Is(err, auth.ErrPasswordRequired), errors.Is(err, auth.ErrWeakPassword):
		return handler.NewHTTPError(http.StatusBadRequest, "New password does not meet security requirements.").Wrap(err)
	case errors.Is(err, account.ErrCustomerNotFound):
		return handler.NewHTTPError(http.StatusNotFound, "Customer not found.").Wrap(err)
	case errors.Is(err, account.ErrSubscriptionsNotFound):
		return handler.NewHTTPError(http.StatusNotFound, "Subscriptions not found.").Wrap(err)
	case errors.Is(err, account.ErrSubscriptionIDRequired):
		return handler.NewHTTPError(http.StatusBadRequest, "Subscription ID is required.").Wrap(err)
	case errors.Is(err, account.ErrForbidden):
		return handler.NewHTTPError(http.StatusForbidden, "You do not have permission to cancel this subscription.").Wrap(err)
	}
	return handler.NewHTTPError(http.StatusInternalServerError, "An unexpected error occurred.").Wrap(err)
}
