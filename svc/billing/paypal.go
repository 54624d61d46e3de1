package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/omnibill/svc/catalog"
)

// defaultPayPalPeriod is assumed when a subscription reports no next billing time.
const defaultPayPalPeriod = 30 * 24 * time.Hour

// PayPalProcessor is the wallet processor adapter.
type PayPalProcessor struct {
	cfg     PayPalConfig
	catalog *catalog.Catalog
	api     *paypalAPI
}

// NewPayPalProcessor creates the wallet processor adapter. Whether it talks
// to the sandbox or the live environment is fixed by cfg.Sandbox.
func NewPayPalProcessor(cfg PayPalConfig, c *catalog.Catalog) (*PayPalProcessor, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if c == nil {
		return nil, errors.New("billing: catalog is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	return &PayPalProcessor{
		cfg:     cfg,
		catalog: c,
		api:     newPayPalAPI(cfg, &http.Client{Timeout: cfg.Timeout}),
	}, nil
}

// Platform implements Processor.
func (p *PayPalProcessor) Platform() Platform { return PlatformPayPal }

// Sandbox reports which environment the adapter was built for.
func (p *PayPalProcessor) Sandbox() bool { return p.cfg.Sandbox }

// CreateCheckoutSession creates a subscription awaiting buyer approval and
// returns the approval link.
func (p *PayPalProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	planID, err := p.catalog.PayPalPlan(req.PlanID, p.cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	base := strings.TrimRight(p.cfg.BaseURL, "/")
	body := paypalCreateSubscription{
		PlanID: planID,
		ApplicationContext: paypalApplicationContext{
			BrandName:          p.cfg.BrandName,
			Locale:             "en-US",
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "SUBSCRIBE_NOW",
			ReturnURL:          base + "/paypal/success?plan=" + url.QueryEscape(req.PlanID),
			CancelURL:          base + "/cancel",
		},
	}
	if req.CustomerEmail != "" {
		body.Subscriber = &paypalSubscriber{EmailAddress: req.CustomerEmail}
	}

	var created paypalSubscription
	if err := p.api.do(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &created); err != nil {
		return nil, err
	}

	for _, link := range created.Links {
		if link.Rel == "approve" {
			return &CheckoutSession{ID: created.ID, RedirectURL: link.Href}, nil
		}
	}
	return nil, ErrNoApprovalURL
}

// CompleteApproval resolves the subscription a buyer approved. The approval
// redirect carries either the subscription id or only the approval token.
// planID is used only when the processor plan cannot be mapped to the catalog.
func (p *PayPalProcessor) CompleteApproval(ctx context.Context, subscriptionID, token, planID string) (*Subscription, error) {
	if subscriptionID == "" {
		if token == "" {
			return nil, ErrMissingSubscriptionID
		}
		id, err := p.subscriptionByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		subscriptionID = id
	}

	sub, err := p.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == "" {
		sub.PlanID = planID
	}
	return sub, nil
}

func (p *PayPalProcessor) subscriptionByToken(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var found paypalSubscription
	if err := p.api.do(ctx, http.MethodGet, "/v1/billing/subscriptions?token="+url.QueryEscape(token), nil, &found); err != nil {
		return "", err
	}
	if found.ID == "" {
		return "", fmt.Errorf("%w: no subscription for approval token", ErrNotFound)
	}
	return found.ID, nil
}

// FetchSubscription implements Processor.
func (p *PayPalProcessor) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var sub paypalSubscription
	if err := p.api.do(ctx, http.MethodGet, "/v1/billing/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return nil, err
	}
	return p.normalize(&sub), nil
}

// CancelSubscription cancels immediately. A subscription that is already
// canceled or expired is acknowledged.
func (p *PayPalProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return ErrMissingSubscriptionID
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	body := map[string]string{"reason": "Customer requested cancellation"}
	err := p.api.do(cctx, http.MethodPost, "/v1/billing/subscriptions/"+url.PathEscape(subscriptionID)+"/cancel", body, nil)
	if err == nil {
		return nil
	}

	var apiErr *PayPalError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		current, ferr := p.FetchSubscription(ctx, subscriptionID)
		if ferr == nil && current.Status == StatusCanceled {
			return nil
		}
	}
	return err
}

// ManageURL is where a subscriber manages automatic payments.
func (p *PayPalProcessor) ManageURL(subscriptionID string) string {
	return p.cfg.webURL() + "/myaccount/autopay/connect/" + url.PathEscape(subscriptionID)
}

// ParseWebhook verifies the notification when a webhook id is configured and
// normalizes it.
func (p *PayPalProcessor) ParseWebhook(ctx context.Context, header http.Header, payload []byte) (*WebhookEvent, error) {
	if err := p.verifyWebhook(ctx, header, payload); err != nil {
		return nil, err
	}

	var raw paypalWebhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	evt := &WebhookEvent{
		ID:       raw.ID,
		Type:     raw.EventType,
		Platform: PlatformPayPal,
		Action:   PayPalEventAction(raw.EventType),
	}
	if evt.Action == ActionIgnore {
		return evt, nil
	}

	if strings.HasPrefix(raw.EventType, "PAYMENT.") {
		evt.SubscriptionID = raw.Resource.BillingAgreementID
	} else {
		evt.SubscriptionID = raw.Resource.ID
	}
	if evt.SubscriptionID == "" {
		evt.Action = ActionIgnore
	}
	return evt, nil
}

func (p *PayPalProcessor) verifyWebhook(ctx context.Context, header http.Header, payload []byte) error {
	if p.cfg.WebhookID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := paypalVerifyRequest{
		AuthAlgo:         header.Get("Paypal-Auth-Algo"),
		CertURL:          header.Get("Paypal-Cert-Url"),
		TransmissionID:   header.Get("Paypal-Transmission-Id"),
		TransmissionSig:  header.Get("Paypal-Transmission-Sig"),
		TransmissionTime: header.Get("Paypal-Transmission-Time"),
		WebhookID:        p.cfg.WebhookID,
		WebhookEvent:     payload,
	}
	if req.TransmissionSig == "" {
		return fmt.Errorf("%w: missing transmission signature", ErrWebhookVerification)
	}

	var resp paypalVerifyResponse
	if err := p.api.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &resp); err != nil {
		return errors.Join(ErrWebhookVerification, err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: status %q", ErrWebhookVerification, resp.VerificationStatus)
	}
	return nil
}

func (p *PayPalProcessor) normalize(sub *paypalSubscription) *Subscription {
	ns := &Subscription{
		ID:              sub.ID,
		Platform:        PlatformPayPal,
		CustomerID:      "paypal_" + sub.ID,
		Email:           sub.Subscriber.EmailAddress,
		Name:            strings.TrimSpace(sub.Subscriber.Name.GivenName + " " + sub.Subscriber.Name.Surname),
		Country:         sub.Subscriber.ShippingAddress.Address.CountryCode,
		Status:          PayPalStatus(sub.Status),
		ProcessorStatus: sub.Status,
		ProductID:       p.catalog.PayPalProduct(p.cfg.Sandbox),
		AutoRenewal:     sub.AutoRenewal,
	}

	ns.PeriodStart = parsePayPalTime(sub.StartTime)
	if ns.PeriodStart.IsZero() {
		ns.PeriodStart = parsePayPalTime(sub.CreateTime)
	}
	if next := parsePayPalTime(sub.BillingInfo.NextBillingTime); !next.IsZero() {
		ns.PeriodEnd = &next
	} else if !ns.PeriodStart.IsZero() {
		end := ns.PeriodStart.Add(defaultPayPalPeriod)
		ns.PeriodEnd = &end
	}

	if plan, ok := p.catalog.PlanByPayPalPlan(sub.PlanID); ok {
		ns.PlanID = plan.ID
		ns.ProductName = plan.DisplayName()
		ns.PriceCents = plan.PriceCents
	}
	if cents, ok := parseAmount(sub.BillingInfo.LastPayment.Amount.Value); ok {
		ns.PriceCents = cents
	}

	return ns
}

func parsePayPalTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// parseAmount converts a decimal string such as "9.99" to minor units.
func parseAmount(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int64(f*100 + 0.5), true
}
