package reconcile

import (
	"github.com/dmitrymomot/omnibill/svc/billing"
)

// Source is where an event came from.
type Source string

const (
	SourceCheckout Source = "checkout"
	SourceWebhook  Source = "webhook"
	SourceSweep    Source = "sweep"
	SourceAccount  Source = "account"
)

// Event is one observation of a subscription's processor-side state.
type Event struct {
	Subscription billing.Subscription
	Source       Source
	// ForceCreditReset grants the full limit even when the period end did
	// not move forward. Set for confirmed payments.
	ForceCreditReset bool
}

// Result describes what a reconciliation changed.
type Result struct {
	CustomerID     string
	NewCustomer    bool
	AccountCreated bool
	LicenseID      string
	LicenseCreated bool
	CreditsReset   bool
	CreditsRevoked bool
	Status         billing.Status
	SoftwareLimit  int64
	CreditsRemain  int64
}
