package billing

import (
	"context"
	"fmt"
	"time"
)

// Processor is implemented by each payment processor adapter.
type Processor interface {
	// Platform returns the platform the adapter speaks for.
	Platform() Platform

	// CreateCheckoutSession starts a hosted payment flow for a catalog plan
	// and returns the URL the buyer must be redirected to.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// FetchSubscription returns the current processor-side state of a
	// subscription. Returns ErrNotFound when the processor has no record of it.
	FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription requests cancellation. Canceling an already
	// canceled subscription is not an error.
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// CheckoutRequest describes a hosted checkout to start.
type CheckoutRequest struct {
	PlanID        string // catalog plan identifier, e.g. "prod1_basic"
	CustomerEmail string // optional prefill
}

// CheckoutSession is a started hosted payment flow.
type CheckoutSession struct {
	ID          string
	RedirectURL string
}

// Subscription is the processor-independent view of a subscription.
type Subscription struct {
	ID              string
	Platform        Platform
	CustomerID      string
	Email           string
	Name            string
	Phone           string
	Country         string
	Status          Status
	ProcessorStatus string
	PeriodStart     time.Time
	PeriodEnd       *time.Time // nil when the processor reports no current period
	PlanID          string     // catalog plan identifier, empty when it cannot be derived
	ProductID       string     // processor-side product id
	ProductName     string
	PriceCents      int64
	AutoRenewal     *bool // nil when the processor does not report it
}

// Registry routes calls to the adapter of a given platform.
type Registry map[Platform]Processor

// NewRegistry indexes processors by their platform.
func NewRegistry(processors ...Processor) Registry {
	r := make(Registry, len(processors))
	for _, p := range processors {
		if p != nil {
			r[p.Platform()] = p
		}
	}
	return r
}

// Get returns the adapter for a platform.
func (r Registry) Get(p Platform) (Processor, error) {
	proc, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	return proc, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolPtr(b bool) *bool {
	return &b
}
