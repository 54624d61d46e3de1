package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxPayPalResponse caps how much of a REST response is read.
const maxPayPalResponse = 1 << 20

// PayPalError is a non-2xx response of the PayPal REST API.
type PayPalError struct {
	StatusCode int    `json:"-"`
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
	Details    []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *PayPalError) Error() string {
	return fmt.Sprintf("paypal: %d %s: %s (debug id %s)", e.StatusCode, e.Name, e.Message, e.DebugID)
}

// Unwrap classifies the response for errors.Is.
func (e *PayPalError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound || e.Name == "RESOURCE_NOT_FOUND" {
		return ErrNotFound
	}
	return ErrProcessorUnavailable
}

// HasIssue reports whether the error details contain the given issue code.
func (e *PayPalError) HasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// paypalAPI is a thin JSON client whose transport obtains and refreshes
// bearer tokens through the client-credentials grant.
type paypalAPI struct {
	baseURL string
	client  *http.Client
}

func newPayPalAPI(cfg PayPalConfig, base *http.Client) *paypalAPI {
	apiURL := strings.TrimRight(cfg.apiURL(), "/")
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     apiURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	return &paypalAPI{
		baseURL: apiURL,
		client:  cc.Client(ctx),
	}
}

func (a *paypalAPI) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paypal: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Join(ErrProcessorUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayPalResponse))
	if err != nil {
		return errors.Join(ErrProcessorUnavailable, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &PayPalError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Join(ErrProcessorUnavailable, fmt.Errorf("paypal: decode response: %w", err))
		}
	}
	return nil
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalSubscription struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	Status     string `json:"status"`
	StartTime  string `json:"start_time"`
	CreateTime string `json:"create_time"`
	Subscriber struct {
		EmailAddress string `json:"email_address"`
		PayerID      string `json:"payer_id"`
		Name         struct {
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
		} `json:"name"`
		ShippingAddress struct {
			Address struct {
				CountryCode string `json:"country_code"`
			} `json:"address"`
		} `json:"shipping_address"`
	} `json:"subscriber"`
	BillingInfo struct {
		NextBillingTime string `json:"next_billing_time"`
		LastPayment     struct {
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
		} `json:"last_payment"`
	} `json:"billing_info"`
	AutoRenewal *bool        `json:"auto_renewal"`
	Links       []paypalLink `json:"links"`
}

type paypalApplicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	Locale             string `json:"locale"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
}

type paypalCreateSubscription struct {
	PlanID             string                   `json:"plan_id"`
	Subscriber         *paypalSubscriber        `json:"subscriber,omitempty"`
	ApplicationContext paypalApplicationContext `json:"application_context"`
}

type paypalSubscriber struct {
	EmailAddress string `json:"email_address"`
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                 string `json:"id"`
		BillingAgreementID string `json:"billing_agreement_id"`
	} `json:"resource"`
}

type paypalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type paypalVerifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}
