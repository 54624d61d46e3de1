package account

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

const defaultPlanLabel = "Recurring Plan"

// Canceler cancels and re-reads wallet subscriptions.
type Canceler interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
	FetchSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error)
}

// SubscriptionView is one row of the dashboard product list.
type SubscriptionView struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Plan            string           `json:"plan"`
	StartDate       *time.Time       `json:"start_date"`
	NextBillingDate *time.Time       `json:"next_billing_date"`
	Status          billing.Status   `json:"status"`
	AutoRenewal     bool             `json:"auto_renewal"`
	Limit           int64            `json:"limit"`
	LimitUsed       int64            `json:"limit_used"`
	Platform        billing.Platform `json:"payment_platform"`
}

// Subscriptions lists the caller's subscriptions with their usage.
func (s *Service) Subscriptions(ctx context.Context, email string) ([]SubscriptionView, error) {
	licenses, err := s.store.FindLicensesByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	byKey := make(map[entitlement.SubscriptionKey]*entitlement.License, len(licenses))
	keys := make([]entitlement.SubscriptionKey, 0, len(licenses))
	for _, lic := range licenses {
		if lic.SubscriptionID == "" {
			continue
		}
		key := subscriptionKey(lic)
		if _, dup := byKey[key]; !dup {
			keys = append(keys, key)
		}
		byKey[key] = lic
	}
	if len(keys) == 0 {
		return nil, ErrSubscriptionsNotFound
	}

	subs, err := s.store.FindSubscriptions(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrSubscriptionsNotFound
	}

	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		v := SubscriptionView{
			ID:              sub.ID,
			Name:            sub.ProductName,
			Plan:            planLabel(sub.ProductName),
			StartDate:       sub.StartDate,
			NextBillingDate: sub.CurrentPeriodEnd,
			Status:          sub.Status,
			AutoRenewal:     sub.AutoRenewal == nil || *sub.AutoRenewal,
			Platform:        sub.Platform,
		}
		if lic, ok := byKey[sub.SubscriptionKey]; ok {
			v.Limit = lic.SoftwareLimit
			v.LimitUsed = lic.SoftwareLimit - lic.SoftwareLimitRemains
		}
		views = append(views, v)
	}
	return views, nil
}

// planLabel takes the plan from a "<product> - <plan>" display name.
func planLabel(productName string) string {
	if _, plan, ok := strings.Cut(productName, " - "); ok && plan != "" {
		return plan
	}
	return defaultPlanLabel
}

func subscriptionKey(lic *entitlement.License) entitlement.SubscriptionKey {
	key := lic.SubscriptionKey()
	if key.Platform == "" {
		key.Platform = billing.PlatformStripe
	}
	return key
}

// CancelPayPal cancels a wallet subscription owned by the caller and
// reconciles it as canceled right away instead of waiting for the webhook.
func (s *Service) CancelPayPal(ctx context.Context, email, subscriptionID string) error {
	if subscriptionID == "" {
		return ErrSubscriptionIDRequired
	}
	if s.canceler == nil {
		return fmt.Errorf("%w: %q", billing.ErrUnknownPlatform, billing.PlatformPayPal)
	}

	lic, err := s.ownedLicense(ctx, email, subscriptionID, billing.PlatformPayPal)
	if err != nil {
		return err
	}

	if err := s.canceler.CancelSubscription(ctx, subscriptionID); err != nil {
		return err
	}

	log := s.log.With(logger.SubscriptionID(subscriptionID), logger.Email(lic.Email))

	sub, err := s.canceler.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		log.WarnContext(ctx, "canceled subscription could not be re-read, using stored state", logger.Error(err))
		sub = &billing.Subscription{
			ID:         subscriptionID,
			Platform:   billing.PlatformPayPal,
			CustomerID: lic.CustomerRef,
			PeriodEnd:  lic.ExpiryDate,
			PlanID:     lic.ProductID + "_" + lic.PaymentPlan,
		}
	}
	sub.Email = lic.Email
	sub.Status = billing.StatusCanceled

	if _, err := s.reconciler.Reconcile(ctx, reconcile.Event{Subscription: *sub, Source: reconcile.SourceAccount}); err != nil {
		return err
	}
	log.InfoContext(ctx, "subscription canceled by customer")
	return nil
}

// PayPalManageURL returns the management page of the caller's most recently
// started active or past-due wallet subscription.
func (s *Service) PayPalManageURL(ctx context.Context, email string) (string, error) {
	if s.manage == nil {
		return "", fmt.Errorf("%w: %q", billing.ErrUnknownPlatform, billing.PlatformPayPal)
	}

	licenses, err := s.store.FindLicensesByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	var keys []entitlement.SubscriptionKey
	for _, lic := range licenses {
		if lic.SubscriptionID != "" && lic.Platform == billing.PlatformPayPal {
			keys = append(keys, subscriptionKey(lic))
		}
	}
	if len(keys) == 0 {
		return "", ErrSubscriptionsNotFound
	}

	subs, err := s.store.FindSubscriptions(ctx, keys)
	if err != nil {
		return "", err
	}
	subs = slices.DeleteFunc(subs, func(sub *entitlement.Subscription) bool {
		return sub.Status != billing.StatusActive && sub.Status != billing.StatusPastDue
	})
	if len(subs) == 0 {
		return "", ErrSubscriptionsNotFound
	}

	latest := slices.MaxFunc(subs, func(a, b *entitlement.Subscription) int {
		return cmp.Compare(startUnix(a), startUnix(b))
	})
	return s.manage.ManageURL(latest.ID), nil
}

func startUnix(sub *entitlement.Subscription) int64 {
	if sub.StartDate == nil {
		return 0
	}
	return sub.StartDate.Unix()
}

func (s *Service) ownedLicense(ctx context.Context, email, subscriptionID string, platform billing.Platform) (*entitlement.License, error) {
	licenses, err := s.store.FindLicensesByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	for _, lic := range licenses {
		if lic.SubscriptionID == subscriptionID && lic.Platform == platform {
			return lic, nil
		}
	}
	return nil, ErrForbidden
}
