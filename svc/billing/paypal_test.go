package billing_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/catalog"
)

const paypalSubscriptionJSON = `{
	"id": "I-SUB1",
	"plan_id": "P-26570462N8352815RNAD3TOA",
	"status": "ACTIVE",
	"start_time": "2025-01-01T10:00:00Z",
	"subscriber": {
		"email_address": "buyer@example.com",
		"payer_id": "PAYER1",
		"name": {"given_name": "Ada", "surname": "Lovelace"},
		"shipping_address": {"address": {"country_code": "GB"}}
	},
	"billing_info": {
		"next_billing_time": "2025-02-01T10:00:00Z",
		"last_payment": {"amount": {"currency_code": "USD", "value": "9.99"}}
	}
}`

type paypalStub struct {
	t          *testing.T
	tokenCalls atomic.Int32
	handlers   map[string]http.HandlerFunc
}

func newPayPalStub(t *testing.T) (*paypalStub, *httptest.Server) {
	t.Helper()
	stub := &paypalStub{t: t, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			stub.tokenCalls.Add(1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		h, ok := stub.handlers[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"name":"RESOURCE_NOT_FOUND","message":"not found"}`)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func newPayPal(t *testing.T, srv *httptest.Server, webhookID string) *billing.PayPalProcessor {
	t.Helper()
	p, err := billing.NewPayPalProcessor(billing.PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		Sandbox:      true,
		WebhookID:    webhookID,
		BaseURL:      "https://billing.example.com/",
		APIURL:       srv.URL,
		BrandName:    "Omni Lead Pro",
		Timeout:      5 * time.Second,
	}, catalog.Default())
	require.NoError(t, err)
	return p
}

func TestNewPayPalProcessor_RequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := billing.NewPayPalProcessor(billing.PayPalConfig{}, catalog.Default())
	assert.ErrorIs(t, err, billing.ErrMissingCredentials)
}

func TestPayPalProcessor_FetchSubscription(t *testing.T) {
	t.Parallel()

	stub, srv := newPayPalStub(t)
	stub.handlers["GET /v1/billing/subscriptions/I-SUB1"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, paypalSubscriptionJSON)
	}
	p := newPayPal(t, srv, "")

	sub, err := p.FetchSubscription(context.Background(), "I-SUB1")
	require.NoError(t, err)

	assert.Equal(t, "I-SUB1", sub.ID)
	assert.Equal(t, billing.PlatformPayPal, sub.Platform)
	assert.Equal(t, "paypal_I-SUB1", sub.CustomerID)
	assert.Equal(t, "buyer@example.com", sub.Email)
	assert.Equal(t, "Ada Lovelace", sub.Name)
	assert.Equal(t, "GB", sub.Country)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, "prod1_basic", sub.PlanID)
	assert.Equal(t, int64(999), sub.PriceCents)
	assert.Equal(t, "PROD-82J36959P8165720M", sub.ProductID)
	require.NotNil(t, sub.PeriodEnd)
	assert.Equal(t, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), *sub.PeriodEnd)

	_, err = p.FetchSubscription(context.Background(), "I-SUB1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), stub.tokenCalls.Load(), "token is cached between calls")
}

func TestPayPalProcessor_FetchSubscription_DefaultPeriod(t *testing.T) {
	t.Parallel()

	stub, srv := newPayPalStub(t)
	stub.handlers["GET /v1/billing/subscriptions/I-SUB2"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"I-SUB2","plan_id":"P-unknown","status":"CANCELLED","start_time":"2025-01-01T00:00:00Z"}`)
	}
	p := newPayPal(t, srv, "")

	sub, err := p.FetchSubscription(context.Background(), "I-SUB2")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, sub.Status)
	assert.Empty(t, sub.PlanID)
	require.NotNil(t, sub.PeriodEnd)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), *sub.PeriodEnd)
}

func TestPayPalProcessor_FetchSubscription_NotFound(t *testing.T) {
	t.Parallel()

	_, srv := newPayPalStub(t)
	p := newPayPal(t, srv, "")

	_, err := p.FetchSubscription(context.Background(), "I-GONE")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NotErrorIs(t, err, billing.ErrProcessorUnavailable)
}

func TestPayPalProcessor_ServerError(t *testing.T) {
	t.Parallel()

	stub, srv := newPayPalStub(t)
	stub.handlers["GET /v1/billing/subscriptions/I-SUB1"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"name":"INTERNAL_SERVER_ERROR","debug_id":"abc"}`)
	}
	p := newPayPal(t, srv, "")

	_, err := p.FetchSubscription(context.Background(), "I-SUB1")
	assert.ErrorIs(t, err, billing.ErrProcessorUnavailable)

	var apiErr *billing.PayPalError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "abc", apiErr.DebugID)
}

func TestPayPalProcessor_CreateCheckoutSession(t *testing.T) {
	t.Parallel()

	stub, srv := newPayPalStub(t)
	stub.handlers["POST /v1/billing/subscriptions"] = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "P-43708783JT085293GNAD3TOI", body["plan_id"])
		appCtx := body["application_context"].(map[string]any)
		assert.Equal(t, "https://billing.example.com/paypal/success?plan=prod1_expert", appCtx["return_url"])
		assert.Equal(t, "https://billing.example.com/cancel", appCtx["cancel_url"])
		assert.Equal(t, "SUBSCRIBE_NOW", appCtx["user_action"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"I-NEW","status":"APPROVAL_PENDING","links":[
			{"href":"https://www.sandbox.paypal.com/webapps/billing/subscriptions?ba_token=BA-1","rel":"approve"},
			{"href":"https://api-m.sandbox.paypal.com/v1/billing/subscriptions/I-NEW","rel":"self"}]}`)
	}
	p := newPayPal(t, srv, "")

	sess, err := p.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{PlanID: "prod1_expert"})
	require.NoError(t, err)
	assert.Equal(t, "I-NEW", sess.ID)
	assert.Contains(t, sess.RedirectURL, "ba_token=BA-1")

	_, err = p.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{PlanID: "prod1_gold"})
	assert.ErrorIs(t, err, billing.ErrUnknownPlan)
}

func TestPayPalProcessor_CompleteApproval_ByToken(t *testing.T) {
	t.Parallel()

	stub, srv := newPayPalStub(t)
	stub.handlers["GET /v1/billing/subscriptions"] = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EC-123", r.URL.Query().Get("token"))
		_, _ = io.WriteString(w, `{"id":"I-SUB1"}`)
	}
	stub.handlers["GET /v1/billing/subscriptions/I-SUB1"] = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, paypalSubscriptionJSON)
	}
	p := newPayPal(t, srv, "")

	sub, err := p.CompleteApproval(context.Background(), "", "EC-123", "prod1_expert")
	require.NoError(t, err)
	assert.Equal(t, "I-SUB1", sub.ID)
	assert.Equal(t, "prod1_basic", sub.PlanID, "processor plan wins over the redirect hint")

	_, err = p.CompleteApproval(context.Background(), "", "", "prod1_basic")
	assert.ErrorIs(t, err, billing.ErrMissingSubscriptionID)
}

func TestPayPalProcessor_CancelSubscription(t *testing.T) {
	t.Parallel()

	t.Run("cancels", func(t *testing.T) {
		t.Parallel()
		stub, srv := newPayPalStub(t)
		var called atomic.Bool
		stub.handlers["POST /v1/billing/subscriptions/I-SUB1/cancel"] = func(w http.ResponseWriter, r *http.Request) {
			called.Store(true)
			w.WriteHeader(http.StatusNoContent)
		}
		p := newPayPal(t, srv, "")

		require.NoError(t, p.CancelSubscription(context.Background(), "I-SUB1"))
		assert.True(t, called.Load())
	})

	t.Run("already canceled is acknowledged", func(t *testing.T) {
		t.Parallel()
		stub, srv := newPayPalStub(t)
		stub.handlers["POST /v1/billing/subscriptions/I-SUB1/cancel"] = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"SUBSCRIPTION_STATUS_INVALID"}]}`)
		}
		stub.handlers["GET /v1/billing/subscriptions/I-SUB1"] = func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, strings.Replace(paypalSubscriptionJSON, `"ACTIVE"`, `"CANCELLED"`, 1))
		}
		p := newPayPal(t, srv, "")

		assert.NoError(t, p.CancelSubscription(context.Background(), "I-SUB1"))
	})
}

func TestPayPalProcessor_ManageURL(t *testing.T) {
	t.Parallel()
	_, srv := newPayPalStub(t)
	p := newPayPal(t, srv, "")
	assert.Equal(t, "https://www.sandbox.paypal.com/myaccount/autopay/connect/I-SUB1", p.ManageURL("I-SUB1"))
}

func TestPayPalProcessor_ParseWebhook(t *testing.T) {
	t.Parallel()

	t.Run("subscription event without verification", func(t *testing.T) {
		t.Parallel()
		_, srv := newPayPalStub(t)
		p := newPayPal(t, srv, "")

		evt, err := p.ParseWebhook(context.Background(), http.Header{},
			[]byte(`{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.SUSPENDED","resource":{"id":"I-SUB1"}}`))
		require.NoError(t, err)
		assert.Equal(t, billing.ActionSuspend, evt.Action)
		assert.Equal(t, "I-SUB1", evt.SubscriptionID)
	})

	t.Run("payment event uses billing agreement", func(t *testing.T) {
		t.Parallel()
		_, srv := newPayPalStub(t)
		p := newPayPal(t, srv, "")

		evt, err := p.ParseWebhook(context.Background(), http.Header{},
			[]byte(`{"id":"WH-2","event_type":"PAYMENT.SALE.DENIED","resource":{"id":"SALE-1","billing_agreement_id":"I-SUB1"}}`))
		require.NoError(t, err)
		assert.Equal(t, billing.ActionPaymentFailed, evt.Action)
		assert.Equal(t, "I-SUB1", evt.SubscriptionID)
	})

	t.Run("verified", func(t *testing.T) {
		t.Parallel()
		stub, srv := newPayPalStub(t)
		stub.handlers["POST /v1/notifications/verify-webhook-signature"] = func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "WH-ID", body["webhook_id"])
			assert.Equal(t, "sig", body["transmission_sig"])
			_, _ = io.WriteString(w, `{"verification_status":"SUCCESS"}`)
		}
		p := newPayPal(t, srv, "WH-ID")

		h := http.Header{}
		h.Set("Paypal-Transmission-Sig", "sig")
		evt, err := p.ParseWebhook(context.Background(), h,
			[]byte(`{"id":"WH-3","event_type":"BILLING.SUBSCRIPTION.CANCELLED","resource":{"id":"I-SUB1"}}`))
		require.NoError(t, err)
		assert.Equal(t, billing.ActionCancel, evt.Action)
	})

	t.Run("verification failure", func(t *testing.T) {
		t.Parallel()
		stub, srv := newPayPalStub(t)
		stub.handlers["POST /v1/notifications/verify-webhook-signature"] = func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"verification_status":"FAILURE"}`)
		}
		p := newPayPal(t, srv, "WH-ID")

		h := http.Header{}
		h.Set("Paypal-Transmission-Sig", "forged")
		_, err := p.ParseWebhook(context.Background(), h, []byte(`{"id":"WH-4","event_type":"PAYMENT.SALE.COMPLETED"}`))
		assert.ErrorIs(t, err, billing.ErrWebhookVerification)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		_, srv := newPayPalStub(t)
		p := newPayPal(t, srv, "WH-ID")

		_, err := p.ParseWebhook(context.Background(), http.Header{}, []byte(`{}`))
		assert.ErrorIs(t, err, billing.ErrWebhookVerification)
	})
}
