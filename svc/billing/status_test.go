package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/omnibill/svc/billing"
)

func TestStripeStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]billing.Status{
		"active":             billing.StatusActive,
		"trialing":           billing.StatusActive,
		"past_due":           billing.StatusPastDue,
		"unpaid":             billing.StatusPastDue,
		"canceled":           billing.StatusCanceled,
		"incomplete":         billing.StatusIncomplete,
		"incomplete_expired": billing.StatusIncomplete,
		"paused":             billing.StatusInactive,
		"something_new":      billing.StatusInactive,
		"":                   billing.StatusInactive,
	}
	for in, want := range tests {
		assert.Equal(t, want, billing.StripeStatus(in), in)
	}
}

func TestPayPalStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]billing.Status{
		"APPROVAL_PENDING": billing.StatusIncomplete,
		"APPROVED":         billing.StatusIncomplete,
		"ACTIVE":           billing.StatusActive,
		"active":           billing.StatusActive,
		"SUSPENDED":        billing.StatusPastDue,
		"CANCELLED":        billing.StatusCanceled,
		"EXPIRED":          billing.StatusCanceled,
		"UNKNOWN":          billing.StatusInactive,
	}
	for in, want := range tests {
		assert.Equal(t, want, billing.PayPalStatus(in), in)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	st, err := billing.ParseStatus(" Past_Due ")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, st)

	_, err = billing.ParseStatus("trialing")
	assert.ErrorIs(t, err, billing.ErrInvalidStatus)
}

func TestParsePlatform(t *testing.T) {
	t.Parallel()

	p, err := billing.ParsePlatform("PayPal")
	require.NoError(t, err)
	assert.Equal(t, billing.PlatformPayPal, p)

	p, err = billing.ParsePlatform("")
	require.NoError(t, err)
	assert.Equal(t, billing.PlatformStripe, p)

	_, err = billing.ParsePlatform("paddle")
	assert.ErrorIs(t, err, billing.ErrUnknownPlatform)
}

func TestEventActions(t *testing.T) {
	t.Parallel()

	t.Run("stripe", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, billing.ActionActivate, billing.StripeEventAction("customer.subscription.created"))
		assert.Equal(t, billing.ActionActivate, billing.StripeEventAction("customer.subscription.resumed"))
		assert.Equal(t, billing.ActionCancel, billing.StripeEventAction("customer.subscription.deleted"))
		assert.Equal(t, billing.ActionRefresh, billing.StripeEventAction("customer.subscription.updated"))
		assert.Equal(t, billing.ActionPaymentSucceeded, billing.StripeEventAction("invoice.payment_succeeded"))
		assert.Equal(t, billing.ActionPaymentFailed, billing.StripeEventAction("invoice.payment_failed"))
		assert.Equal(t, billing.ActionIgnore, billing.StripeEventAction("charge.refunded"))
	})

	t.Run("paypal", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, billing.ActionActivate, billing.PayPalEventAction("BILLING.SUBSCRIPTION.ACTIVATED"))
		assert.Equal(t, billing.ActionCancel, billing.PayPalEventAction("BILLING.SUBSCRIPTION.EXPIRED"))
		assert.Equal(t, billing.ActionSuspend, billing.PayPalEventAction("BILLING.SUBSCRIPTION.SUSPENDED"))
		assert.Equal(t, billing.ActionPaymentSucceeded, billing.PayPalEventAction("PAYMENT.SALE.COMPLETED"))
		assert.Equal(t, billing.ActionPaymentFailed, billing.PayPalEventAction("PAYMENT.SALE.REVERSED"))
		assert.Equal(t, billing.ActionIgnore, billing.PayPalEventAction("CHECKOUT.ORDER.APPROVED"))
	})

	t.Run("forced status", func(t *testing.T) {
		t.Parallel()
		st, ok := billing.ActionPaymentFailed.ForcedStatus()
		assert.True(t, ok)
		assert.Equal(t, billing.StatusPastDue, st)

		st, ok = billing.ActionSuspend.ForcedStatus()
		assert.True(t, ok)
		assert.Equal(t, billing.StatusPastDue, st)

		_, ok = billing.ActionRefresh.ForcedStatus()
		assert.False(t, ok)
	})
}

type fakeProcessor struct {
	platform billing.Platform
	billing.Processor
}

func (f fakeProcessor) Platform() billing.Platform { return f.platform }

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := billing.NewRegistry(fakeProcessor{platform: billing.PlatformStripe}, nil)

	p, err := r.Get(billing.PlatformStripe)
	require.NoError(t, err)
	assert.Equal(t, billing.PlatformStripe, p.Platform())

	_, err = r.Get(billing.PlatformPayPal)
	assert.ErrorIs(t, err, billing.ErrUnknownPlatform)
}
