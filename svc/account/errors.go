package account

import "errors"

var (
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrIncorrectPassword      = errors.New("current password is incorrect")
	ErrAccountNotFound        = errors.New("user not found")
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrSubscriptionsNotFound  = errors.New("subscriptions not found")
	ErrSubscriptionIDRequired = errors.New("subscription id is required")
	ErrForbidden              = errors.New("you do not have permission to manage this subscription")
	ErrPortalUnavailable      = errors.New("billing portal is not configured")
)
