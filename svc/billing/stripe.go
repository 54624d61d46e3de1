package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/omnibill/svc/catalog"
)

// metadataPlanKey stores the catalog plan identifier on checkout sessions
// and the subscriptions they create.
const metadataPlanKey = "plan_id"

// StripeProcessor is the card processor adapter.
type StripeProcessor struct {
	cfg      StripeConfig
	catalog  *catalog.Catalog
	sessions *checkoutsession.Client
	subs     *subscription.Client
	portal   *portalsession.Client
}

// NewStripeProcessor creates the card processor adapter.
func NewStripeProcessor(cfg StripeConfig, c *catalog.Catalog) (*StripeProcessor, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, ErrMissingCredentials
	}
	if c == nil {
		return nil, errors.New("billing: catalog is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	bc := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	return &StripeProcessor{
		cfg:      cfg,
		catalog:  c,
		sessions: &checkoutsession.Client{B: backend, Key: cfg.SecretKey},
		subs:     &subscription.Client{B: backend, Key: cfg.SecretKey},
		portal:   &portalsession.Client{B: backend, Key: cfg.SecretKey},
	}, nil
}

// Platform implements Processor.
func (p *StripeProcessor) Platform() Platform { return PlatformStripe }

// CreateCheckoutSession starts a subscription-mode Checkout Session.
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	price, err := p.catalog.StripePrice(req.PlanID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		// {CHECKOUT_SESSION_ID} is substituted by the processor and must stay unescaped.
		SuccessURL: stripe.String(strings.TrimRight(p.cfg.BaseURL, "/") +
			"/success?session_id={CHECKOUT_SESSION_ID}&plan=" + url.QueryEscape(req.PlanID)),
		CancelURL: stripe.String(strings.TrimRight(p.cfg.BaseURL, "/") + "/cancel"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataPlanKey: req.PlanID},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata(metadataPlanKey, req.PlanID)
	params.Context = ctx

	s, err := p.sessions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}

	return &CheckoutSession{ID: s.ID, RedirectURL: s.URL}, nil
}

// CompleteCheckout expands a finished Checkout Session into the subscription
// it created. planID is used only when the price cannot be mapped back to
// the catalog.
func (p *StripeProcessor) CompleteCheckout(ctx context.Context, sessionID, planID string) (*Subscription, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing checkout session id", ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	params.AddExpand("customer")
	params.AddExpand("line_items.data.price.product")

	s, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	if s.Subscription == nil {
		return nil, fmt.Errorf("%w: checkout session %s has no subscription", ErrNotFound, sessionID)
	}

	ns := p.normalize(s.Subscription)

	if s.Customer != nil {
		ns.CustomerID = s.Customer.ID
		applyStripeCustomer(ns, s.Customer)
	}
	if d := s.CustomerDetails; d != nil {
		ns.Email = firstNonEmpty(d.Email, ns.Email)
		ns.Name = firstNonEmpty(d.Name, ns.Name)
		ns.Phone = firstNonEmpty(d.Phone, ns.Phone)
		if d.Address != nil {
			ns.Country = firstNonEmpty(d.Address.Country, ns.Country)
		}
	}
	if s.LineItems != nil && len(s.LineItems.Data) > 0 {
		if price := s.LineItems.Data[0].Price; price != nil && price.Product != nil {
			ns.ProductID = price.Product.ID
			ns.ProductName = firstNonEmpty(price.Product.Name, ns.ProductName)
		}
	}
	if ns.PlanID == "" {
		ns.PlanID = firstNonEmpty(s.Metadata[metadataPlanKey], planID)
	}

	return ns, nil
}

// FetchSubscription implements Processor.
func (p *StripeProcessor) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("customer")

	sub, err := p.subs.Get(subscriptionID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return p.normalize(sub), nil
}

// CancelSubscription cancels at the end of the current period.
func (p *StripeProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	current, err := p.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if current.Status == StatusCanceled {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := p.subs.Update(subscriptionID, params); err != nil {
		return stripeError(err)
	}
	return nil
}

// CustomerPortal creates a billing portal session and returns its URL.
func (p *StripeProcessor) CustomerPortal(ctx context.Context, customerID, returnURL string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("%w: missing customer id", ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.portal.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return s.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (p *StripeProcessor) ParseWebhook(_ context.Context, header http.Header, payload []byte) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerification, err)
	}

	evt := &WebhookEvent{
		ID:       event.ID,
		Type:     string(event.Type),
		Platform: PlatformStripe,
		Action:   StripeEventAction(string(event.Type)),
	}
	if evt.Action == ActionIgnore {
		return evt, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidWebhookPayload, event.ID)
	}

	subID, err := stripeEventSubscriptionID(event.Data.Raw)
	if err != nil {
		return nil, err
	}
	if subID == "" {
		// Invoices outside a subscription, e.g. one-off charges.
		evt.Action = ActionIgnore
	}
	evt.SubscriptionID = subID

	return evt, nil
}

func stripeEventSubscriptionID(raw json.RawMessage) (string, error) {
	var obj struct {
		ID           string `json:"id"`
		Object       string `json:"object"`
		Subscription string `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", errors.Join(ErrInvalidWebhookPayload, err)
	}

	switch obj.Object {
	case "subscription":
		return obj.ID, nil
	case "invoice":
		return firstNonEmpty(obj.Parent.SubscriptionDetails.Subscription, obj.Subscription), nil
	}
	return "", fmt.Errorf("%w: unexpected object %q", ErrInvalidWebhookPayload, obj.Object)
}

func (p *StripeProcessor) normalize(sub *stripe.Subscription) *Subscription {
	ns := &Subscription{
		ID:              sub.ID,
		Platform:        PlatformStripe,
		Status:          StripeStatus(string(sub.Status)),
		ProcessorStatus: string(sub.Status),
		AutoRenewal:     boolPtr(!sub.CancelAtPeriodEnd),
	}
	if sub.StartDate > 0 {
		ns.PeriodStart = time.Unix(sub.StartDate, 0).UTC()
	}
	if sub.Customer != nil {
		ns.CustomerID = sub.Customer.ID
		applyStripeCustomer(ns, sub.Customer)
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			ns.PeriodEnd = timePtr(time.Unix(item.CurrentPeriodEnd, 0).UTC())
		}
		if item.Price != nil {
			ns.PriceCents = item.Price.UnitAmount
			if item.Price.Product != nil {
				ns.ProductID = item.Price.Product.ID
				ns.ProductName = item.Price.Product.Name
			}
			if plan, ok := p.catalog.PlanByStripePrice(item.Price.ID); ok {
				ns.PlanID = plan.ID
				ns.ProductName = plan.DisplayName()
			}
		}
	}
	if ns.PlanID == "" {
		ns.PlanID = sub.Metadata[metadataPlanKey]
	}

	return ns
}

func applyStripeCustomer(ns *Subscription, c *stripe.Customer) {
	ns.Email = firstNonEmpty(ns.Email, c.Email)
	ns.Name = firstNonEmpty(ns.Name, c.Name)
	ns.Phone = firstNonEmpty(ns.Phone, c.Phone)
	if c.Address != nil {
		ns.Country = firstNonEmpty(ns.Country, c.Address.Country)
	}
}

// stripeError classifies an SDK error. Missing resources become ErrNotFound,
// everything else is treated as a transient processor failure.
func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	return errors.Join(ErrProcessorUnavailable, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
