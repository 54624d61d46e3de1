package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrymomot/omnibill/pkg/auth"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/catalog"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

const (
	testPassword   = "Gen3ratedPass"
	testLicenseKey = "ABCDEFGHJKLMNPQRSTUV"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// MockNotifier is a mock implementation of reconcile.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n reconcile.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockProcessor is a mock implementation of billing.Processor.
type MockProcessor struct {
	mock.Mock
	platform billing.Platform
}

func (m *MockProcessor) Platform() billing.Platform { return m.platform }

func (m *MockProcessor) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *MockProcessor) FetchSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *MockProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

// failingStore injects write failures into a MemoryStore.
type failingStore struct {
	*entitlement.MemoryStore
	upsertErr error
	insertErr error
}

func (s *failingStore) UpsertSubscription(ctx context.Context, u entitlement.SubscriptionUpdate) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.MemoryStore.UpsertSubscription(ctx, u)
}

func (s *failingStore) InsertLicense(ctx context.Context, l *entitlement.License) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.MemoryStore.InsertLicense(ctx, l)
}

// recordingNotifier collects notifications in order.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []reconcile.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n reconcile.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) kinds() []reconcile.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reconcile.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func newEngine(t *testing.T, store entitlement.Store, n reconcile.Notifier, opts ...reconcile.Option) *reconcile.Engine {
	t.Helper()
	base := []reconcile.Option{
		reconcile.WithNotifier(n),
		reconcile.WithClock(func() time.Time { return testNow }),
		reconcile.WithHasher(auth.NewHasher(bcrypt.MinCost)),
		reconcile.WithGenerators(
			func() (string, error) { return testPassword, nil },
			func() (string, error) { return testLicenseKey, nil },
		),
	}
	return reconcile.New(store, catalog.Default(), append(base, opts...)...)
}

func periodEnd(days int) *time.Time {
	t := testNow.AddDate(0, 0, days)
	return &t
}

func activeSub(id, email string, end *time.Time) billing.Subscription {
	return billing.Subscription{
		ID:          id,
		Platform:    billing.PlatformStripe,
		CustomerID:  "cus_" + id,
		Email:       email,
		Name:        "Jane Buyer",
		Country:     "US",
		Status:      billing.StatusActive,
		PeriodStart: testNow,
		PeriodEnd:   end,
		PlanID:      "prod1_basic",
		ProductID:   "prod_RXXw8vU86zL2At",
		PriceCents:  999,
	}
}

func findLicense(t *testing.T, s entitlement.Store, email, subID string) *entitlement.License {
	t.Helper()
	lic, err := s.FindLicense(context.Background(), entitlement.LicenseKey{
		Email:          email,
		ProductRef:     "prod1",
		SubscriptionID: subID,
	})
	require.NoError(t, err)
	return lic
}
