package entitlement

import "context"

// Store is the persistence gateway used by the reconciliation engine and the
// dashboard API. Lookups return ErrNotFound when nothing matches. Any other
// error means the store itself failed.
type Store interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	// CreateCustomer fails with ErrAlreadyExists when the id or email is taken.
	CreateCustomer(ctx context.Context, c *Customer) error

	FindAccount(ctx context.Context, email string) (*Account, error)
	// CreateAccount fails with ErrAlreadyExists when the email already has an account.
	CreateAccount(ctx context.Context, a *Account) error
	UpdateAccountPassword(ctx context.Context, email, passwordHash string) error

	UpsertSubscription(ctx context.Context, u SubscriptionUpdate) error
	FindSubscription(ctx context.Context, key SubscriptionKey) (*Subscription, error)
	// FindSubscriptions returns the subscriptions matching any of the keys.
	FindSubscriptions(ctx context.Context, keys []SubscriptionKey) ([]*Subscription, error)
	// FindSubscriptionsByCustomer returns the subscriptions owned by any of
	// the processor customer ids, oldest first.
	FindSubscriptionsByCustomer(ctx context.Context, customerIDs []string) ([]*Subscription, error)

	FindLicense(ctx context.Context, key LicenseKey) (*License, error)
	// InsertLicense fails with ErrAlreadyExists when a row with the same key exists.
	InsertLicense(ctx context.Context, l *License) error
	UpdateLicense(ctx context.Context, key LicenseKey, u LicenseUpdate) error
	FindLicensesByEmail(ctx context.Context, email string) ([]*License, error)
	// ListSubscribedLicenses returns every license that references a subscription.
	ListSubscribedLicenses(ctx context.Context) ([]*License, error)

	Ping(ctx context.Context) error
}
