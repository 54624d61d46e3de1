package account

import (
	"context"
	"errors"
	"slices"

	"github.com/dmitrymomot/omnibill/svc/catalog"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
)

// SoftwareFinder maps a processor product id to its download entry.
type SoftwareFinder interface {
	Software(productID string) (catalog.Software, bool)
}

// SoftwareAccess is one subscribed product with the caller's licenses for it.
type SoftwareAccess struct {
	Software catalog.Software       `json:"software"`
	Licenses []*entitlement.License `json:"licenses"`
	Email    string                 `json:"email"`
}

// AvailableSoftware lists the software the caller is subscribed to. The
// subscriptions are collected through the processor customer ids of the
// account and its licenses, and through the subscription ids on the
// licenses, so rows written under either processor are found.
func (s *Service) AvailableSoftware(ctx context.Context, email string) ([]SoftwareAccess, error) {
	email = entitlement.NormalizeEmail(email)

	acct, err := s.store.FindAccount(ctx, email)
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		return nil, ErrAccountNotFound
	case err != nil:
		return nil, err
	}

	licenses, err := s.store.FindLicensesByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	var customerIDs []string
	addCustomer := func(id string) {
		if id != "" && !slices.Contains(customerIDs, id) {
			customerIDs = append(customerIDs, id)
		}
	}
	addCustomer(acct.ProcessorCustomerRef)
	for _, lic := range licenses {
		addCustomer(lic.CustomerRef)
	}

	subs, err := s.store.FindSubscriptionsByCustomer(ctx, customerIDs)
	if err != nil {
		return nil, err
	}

	keys := make([]entitlement.SubscriptionKey, 0, len(licenses))
	for _, lic := range licenses {
		if lic.SubscriptionID != "" {
			keys = append(keys, subscriptionKey(lic))
		}
	}
	linked, err := s.store.FindSubscriptions(ctx, keys)
	if err != nil {
		return nil, err
	}

	productOf := make(map[entitlement.SubscriptionKey]string, len(subs)+len(linked))
	var productIDs []string
	for _, sub := range append(subs, linked...) {
		if _, dup := productOf[sub.SubscriptionKey]; dup {
			continue
		}
		productOf[sub.SubscriptionKey] = sub.ProductID
		if !slices.Contains(productIDs, sub.ProductID) {
			productIDs = append(productIDs, sub.ProductID)
		}
	}
	if len(productOf) == 0 {
		return nil, ErrSubscriptionsNotFound
	}

	out := make([]SoftwareAccess, 0, len(productIDs))
	for _, productID := range productIDs {
		access := SoftwareAccess{
			Software: s.software(productID),
			Licenses: []*entitlement.License{},
			Email:    email,
		}
		for _, lic := range licenses {
			if lic.SubscriptionID == "" {
				continue
			}
			if id, ok := productOf[subscriptionKey(lic)]; ok && id == productID {
				access.Licenses = append(access.Licenses, lic)
			}
		}
		out = append(out, access)
	}
	return out, nil
}

func (s *Service) software(productID string) catalog.Software {
	if s.catalog != nil {
		if sw, ok := s.catalog.Software(productID); ok {
			return sw
		}
	}
	return catalog.Software{
		Name:        "Unknown Software",
		Description: "Product information unavailable",
		ProductID:   productID,
	}
}
