package payments_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/omnibill/modules/payments"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/catalog"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

const (
	thankYouURL = "https://omnilead.pro/thankyou.html"
	cancelURL   = "https://www.omnilead.pro/"
	adminKey    = "s3cret-admin-key"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if s := args.Get(0); s != nil {
		return s.(*billing.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) CompleteCheckout(ctx context.Context, sessionID, planID string) (*billing.Subscription, error) {
	args := m.Called(ctx, sessionID, planID)
	if s := args.Get(0); s != nil {
		return s.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) CompleteApproval(ctx context.Context, subscriptionID, token, planID string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionID, token, planID)
	if s := args.Get(0); s != nil {
		return s.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) ParseWebhook(ctx context.Context, header http.Header, payload []byte) (*billing.WebhookEvent, error) {
	args := m.Called(ctx, header, payload)
	if e := args.Get(0); e != nil {
		return e.(*billing.WebhookEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) SyncSubscription(ctx context.Context, sub *billing.Subscription, source reconcile.Source) (reconcile.Result, error) {
	args := m.Called(ctx, sub, source)
	return args.Get(0).(reconcile.Result), args.Error(1)
}

func (m *MockSyncer) ApplyWebhook(ctx context.Context, ev *billing.WebhookEvent) (*reconcile.Result, error) {
	args := m.Called(ctx, ev)
	if r := args.Get(0); r != nil {
		return r.(*reconcile.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSweeper) SweepAll(ctx context.Context) (reconcile.SweepReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(reconcile.SweepReport), args.Error(1)
}

type fixture struct {
	stripe  *MockProcessor
	paypal  *MockProcessor
	syncer  *MockSyncer
	sweeper *MockSweeper
	handler http.Handler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stripe:  &MockProcessor{},
		paypal:  &MockProcessor{},
		syncer:  &MockSyncer{},
		sweeper: &MockSweeper{},
	}
	t.Cleanup(func() {
		f.stripe.AssertExpectations(t)
		f.paypal.AssertExpectations(t)
		f.syncer.AssertExpectations(t)
		f.sweeper.AssertExpectations(t)
	})

	m := payments.New(payments.Config{
		ThankYouURL: thankYouURL,
		CancelURL:   cancelURL,
		AdminAPIKey: adminKey,
	}, f.syncer,
		payments.WithStripe(f.stripe),
		payments.WithPayPal(f.paypal),
		payments.WithSweeper(f.sweeper),
	)
	f.handler = m.Handle()
	return f
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func activeSubscription(platform billing.Platform) *billing.Subscription {
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	return &billing.Subscription{
		ID:        "sub_1",
		Platform:  platform,
		Email:     "buyer@example.com",
		Status:    billing.StatusActive,
		PeriodEnd: &end,
		PlanID:    "prod1_basic",
	}
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	t.Run("stripe redirects to hosted checkout", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.stripe.On("CreateCheckoutSession", mock.Anything, billing.CheckoutRequest{PlanID: "prod1_basic"}).
			Return(&billing.CheckoutSession{ID: "cs_1", RedirectURL: "https://checkout.stripe.com/c/cs_1"}, nil).Once()

		w := f.do(httptest.NewRequest(http.MethodGet, "/subscribe?plan=prod1_basic", nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "https://checkout.stripe.com/c/cs_1", w.Header().Get("Location"))
	})

	t.Run("legacy planId parameter", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.paypal.On("CreateCheckoutSession", mock.Anything, billing.CheckoutRequest{PlanID: "prod1_expert", CustomerEmail: "a@example.com"}).
			Return(&billing.CheckoutSession{ID: "I-1", RedirectURL: "https://www.paypal.com/webapps/billing/subscriptions?ba_token=BA-1"}, nil).Once()

		w := f.do(httptest.NewRequest(http.MethodGet, "/paypal/subscribe?planId=prod1_expert&email=a@example.com", nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "ba_token=BA-1")
	})

	t.Run("missing plan", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		w := f.do(httptest.NewRequest(http.MethodGet, "/subscribe", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Missing plan ID!", w.Body.String())
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.stripe.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, catalog.ErrUnknownPlan).Once()

		w := f.do(httptest.NewRequest(http.MethodGet, "/subscribe?plan=prod1_gold", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid plan!", w.Body.String())
	})

	t.Run("cancel", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		w := f.do(httptest.NewRequest(http.MethodGet, "/cancel", nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, cancelURL, w.Header().Get("Location"))
	})
}

func TestSuccess(t *testing.T) {
	t.Parallel()

	t.Run("stripe reconciles and redirects", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		sub := activeSubscription(billing.PlatformStripe)
		f.stripe.On("CompleteCheckout", mock.Anything, "cs_1", "prod1_basic").Return(sub, nil).Once()
		f.syncer.On("SyncSubscription", mock.Anything, sub, reconcile.SourceCheckout).
			Return(reconcile.Result{NewCustomer: true, Status: billing.StatusActive}, nil).Once()

		w := f.do(httptest.NewRequest(http.MethodGet, "/success?session_id=cs_1&plan=prod1_basic", nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, thankYouURL, w.Header().Get("Location"))
	})

	t.Run("paypal token approval", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		sub := activeSubscription(billing.PlatformPayPal)
		f.paypal.On("CompleteApproval", mock.Anything, "", "EC-1", "prod1_basic").Return(sub, nil).Once()
		f.syncer.On("SyncSubscription", mock.Anything, sub, reconcile.SourceCheckout).
			Return(reconcile.Result{}, nil).Once()

		w := f.do(httptest.NewRequest(http.MethodGet, "/paypal/success?token=EC-1&planIdString=prod1_basic", nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, thankYouURL, w.Header().Get("Location"))
	})

	tests := []struct {
		name       string
		processErr error
		syncErr    error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "processor unavailable",
			processErr: billing.ErrProcessorUnavailable,
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Payment processor unavailable. Please try again later.",
		},
		{
			name:       "session not found",
			processErr: billing.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   "Subscription not found.",
		},
		{
			name:       "persistence failure",
			syncErr:    &reconcile.StageError{Stage: reconcile.StageLicense, Err: errors.New("write conflict")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Error saving subscription data.",
		},
		{
			name:       "incomplete processor data",
			syncErr:    reconcile.ErrInvalidEvent,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Missing required data from payment processor.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := setup(t)
			sub := activeSubscription(billing.PlatformStripe)
			if tt.processErr != nil {
				f.stripe.On("CompleteCheckout", mock.Anything, "cs_1", "").Return(nil, tt.processErr).Once()
			} else {
				f.stripe.On("CompleteCheckout", mock.Anything, "cs_1", "").Return(sub, nil).Once()
				f.syncer.On("SyncSubscription", mock.Anything, sub, reconcile.SourceCheckout).
					Return(reconcile.Result{}, tt.syncErr).Once()
			}

			w := f.do(httptest.NewRequest(http.MethodGet, "/success?session_id=cs_1", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}

	t.Run("missing session", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		w := f.do(httptest.NewRequest(http.MethodGet, "/success", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	payload := `{"id":"evt_1","type":"invoice.payment_failed"}`
	event := &billing.WebhookEvent{
		ID:             "evt_1",
		Type:           "invoice.payment_failed",
		Platform:       billing.PlatformStripe,
		SubscriptionID: "sub_1",
		Action:         billing.ActionPaymentFailed,
	}

	newRequest := func(path, body string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		r.Header.Set("Stripe-Signature", "t=1,v1=abc")
		return r
	}

	t.Run("applies verified event", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.stripe.On("ParseWebhook", mock.Anything, mock.MatchedBy(func(h http.Header) bool {
			return h.Get("Stripe-Signature") == "t=1,v1=abc"
		}), []byte(payload)).Return(event, nil).Once()
		f.syncer.On("ApplyWebhook", mock.Anything, event).
			Return(&reconcile.Result{Status: billing.StatusPastDue, CreditsRevoked: true}, nil).Once()

		w := f.do(newRequest("/webhook", payload))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("processing failure is acknowledged", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.paypal.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(event, nil).Once()
		f.syncer.On("ApplyWebhook", mock.Anything, event).
			Return(nil, &reconcile.StageError{Stage: reconcile.StageSubscription, Err: errors.New("timeout")}).Once()

		w := f.do(newRequest("/paypal-webhook", payload))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Webhook received", w.Body.String())
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.stripe.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, billing.ErrWebhookVerification).Once()

		w := f.do(newRequest("/webhook", payload))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("payload too large", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		w := f.do(newRequest("/webhook", strings.Repeat("x", payments.MaxWebhookBody+1)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestCheckSubscriptions(t *testing.T) {
	t.Parallel()

	newRequest := func(method, target, key string) *http.Request {
		r := httptest.NewRequest(method, target, nil)
		if key != "" {
			r.Header.Set(payments.APIKeyHeader, key)
		}
		return r
	}
	decode := func(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
		t.Helper()
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	t.Run("rejects missing or wrong key", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		for _, key := range []string{"", "wrong"} {
			w := f.do(newRequest(http.MethodGet, "/api/admin/check-subscriptions", key))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Unauthorized", decode(t, w)["error"])
		}
	})

	t.Run("starts in background", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.sweeper.On("Start", mock.Anything).Return(nil).Once()

		w := f.do(newRequest(http.MethodPost, "/api/admin/check-subscriptions", adminKey))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "started", decode(t, w)["status"])
	})

	t.Run("already running", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.sweeper.On("Start", mock.Anything).Return(reconcile.ErrSweepInProgress).Once()

		w := f.do(newRequest(http.MethodGet, "/api/admin/check-subscriptions", adminKey))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "already_running", decode(t, w)["status"])
	})

	t.Run("waits for report", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		f.sweeper.On("SweepAll", mock.Anything).
			Return(reconcile.SweepReport{Total: 3, Reconciled: 2, NotFound: 1}, nil).Once()

		w := f.do(newRequest(http.MethodGet, "/api/admin/check-subscriptions?wait=true", adminKey))
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "completed", body["status"])
		report, ok := body["report"].(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, 3, report["total"])
	})
}

func TestHandle_UnconfiguredProcessors(t *testing.T) {
	t.Parallel()
	h := payments.New(payments.Config{CancelURL: cancelURL}, &MockSyncer{}).Handle()

	for _, path := range []string{"/subscribe?plan=prod1_basic", "/paypal/subscribe?plan=prod1_basic", "/api/admin/check-subscriptions"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}
