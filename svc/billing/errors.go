package billing

import (
	"errors"

	"github.com/dmitrymomot/omnibill/svc/catalog"
)

var (
	ErrUnknownPlan           = catalog.ErrUnknownPlan
	ErrProcessorUnavailable  = errors.New("payment processor unavailable")
	ErrNotFound              = errors.New("subscription not found at processor")
	ErrUnknownPlatform       = errors.New("unknown payment platform")
	ErrInvalidStatus         = errors.New("invalid subscription status")
	ErrWebhookVerification   = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")
	ErrNoApprovalURL         = errors.New("no approval URL returned from processor")
	ErrMissingCredentials    = errors.New("payment processor credentials are required")
	ErrMissingSubscriptionID = errors.New("subscription id is required")
)
