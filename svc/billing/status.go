package billing

import (
	"fmt"
	"strings"
)

// Status is the processor-independent subscription state.
type Status string

const (
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusInactive   Status = "inactive"
	StatusIncomplete Status = "incomplete"
)

// Valid reports whether s is one of the five known states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled, StatusInactive, StatusIncomplete:
		return true
	}
	return false
}

// ParseStatus parses a stored status value.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Platform identifies the processor that owns a subscription.
type Platform string

const (
	PlatformStripe Platform = "stripe"
	PlatformPayPal Platform = "paypal"
)

// ParsePlatform parses a platform name. An empty value means stripe,
// which is how rows created before the wallet processor existed are stored.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformStripe, PlatformPayPal:
		return p, nil
	case "":
		return PlatformStripe, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

var stripeStatuses = map[string]Status{
	"active":             StatusActive,
	"trialing":           StatusActive,
	"past_due":           StatusPastDue,
	"unpaid":             StatusPastDue,
	"canceled":           StatusCanceled,
	"incomplete":         StatusIncomplete,
	"incomplete_expired": StatusIncomplete,
	"paused":             StatusInactive,
}

var paypalStatuses = map[string]Status{
	"APPROVAL_PENDING": StatusIncomplete,
	"APPROVED":         StatusIncomplete,
	"ACTIVE":           StatusActive,
	"SUSPENDED":        StatusPastDue,
	"CANCELLED":        StatusCanceled,
	"EXPIRED":          StatusCanceled,
}

// StripeStatus translates a card processor subscription status.
// Unknown values map to StatusInactive.
func StripeStatus(s string) Status {
	if st, ok := stripeStatuses[strings.ToLower(s)]; ok {
		return st
	}
	return StatusInactive
}

// PayPalStatus translates a wallet processor subscription status.
// Unknown values map to StatusInactive.
func PayPalStatus(s string) Status {
	if st, ok := paypalStatuses[strings.ToUpper(s)]; ok {
		return st
	}
	return StatusInactive
}
