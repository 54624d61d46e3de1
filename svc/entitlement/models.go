package entitlement

import (
	"strings"
	"time"

	"github.com/dmitrymomot/omnibill/svc/billing"
)

// Customer is one paying human, shared across processors and looked up by email.
type Customer struct {
	ID        string           `json:"id" bson:"_id"`
	Name      string           `json:"name" bson:"name"`
	Email     string           `json:"email" bson:"email"`
	Phone     string           `json:"phone,omitempty" bson:"phone,omitempty"`
	Country   string           `json:"country,omitempty" bson:"country,omitempty"`
	Platform  billing.Platform `json:"payment_platform" bson:"payment_platform"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}

// Account is the website login of a customer. One per email.
type Account struct {
	Email                string    `json:"email" bson:"_id"`
	PasswordHash         string    `json:"-" bson:"password_hash"`
	RegistrationDate     time.Time `json:"registration_date" bson:"registration_date"`
	ProcessorCustomerRef string    `json:"processor_customer_ref" bson:"processor_customer_ref"`
	UpdatedAt            time.Time `json:"updated_at" bson:"updated_at"`
}

// SubscriptionKey identifies a subscription. Processor ids are only unique
// within their own processor, so the platform is part of the key.
type SubscriptionKey struct {
	ID       string           `json:"id" bson:"subscription_id"`
	Platform billing.Platform `json:"payment_platform" bson:"payment_platform"`
}

// Validate checks that both parts of the key are set.
func (k SubscriptionKey) Validate() error {
	if k.ID == "" || k.Platform == "" {
		return ErrInvalidKey
	}
	return nil
}

// Subscription mirrors a processor subscription.
type Subscription struct {
	SubscriptionKey  `bson:",inline"`
	CustomerID       string         `json:"customer_id" bson:"customer_id"`
	ProductID        string         `json:"product_id" bson:"product_id"`
	ProductName      string         `json:"product_name" bson:"product_name"`
	PriceCents       int64          `json:"price_cents" bson:"price_cents"`
	Status           billing.Status `json:"status" bson:"status"`
	StartDate        *time.Time     `json:"start_date,omitempty" bson:"start_date,omitempty"`
	CurrentPeriodEnd *time.Time     `json:"current_period_end,omitempty" bson:"current_period_end"`
	AutoRenewal      *bool          `json:"auto_renewal,omitempty" bson:"auto_renewal,omitempty"`
	CreatedAt        time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" bson:"updated_at"`
}

// SubscriptionUpdate is a merge-style write. Status, CurrentPeriodEnd,
// CustomerID, product and price are always written. Nil StartDate and
// AutoRenewal leave the stored values untouched.
type SubscriptionUpdate struct {
	Key              SubscriptionKey
	CustomerID       string
	ProductID        string
	ProductName      string
	PriceCents       int64
	Status           billing.Status
	CurrentPeriodEnd *time.Time
	StartDate        *time.Time
	AutoRenewal      *bool
	At               time.Time
}

// LicenseKey identifies a license row.
type LicenseKey struct {
	Email          string
	ProductRef     string
	SubscriptionID string
}

// Validate checks that every part of the key is set.
func (k LicenseKey) Validate() error {
	if k.Email == "" || k.ProductRef == "" || k.SubscriptionID == "" {
		return ErrInvalidKey
	}
	return nil
}

// License is one entitlement to use a product under a subscription.
type License struct {
	ID                   string           `json:"id" bson:"_id"`
	Username             string           `json:"username" bson:"username"`
	Email                string           `json:"email" bson:"email"`
	Country              string           `json:"country" bson:"country"`
	LicenseKey           string           `json:"license_key" bson:"license_key"`
	RegistrationDate     time.Time        `json:"registration_date" bson:"registration_date"`
	ExpiryDate           *time.Time       `json:"expiry_date,omitempty" bson:"expiry_date"`
	ProductID            string           `json:"product_id" bson:"product_id"`
	PaymentPlan          string           `json:"payment_plan" bson:"payment_plan"`
	SubscriptionID       string           `json:"subscription_id" bson:"subscription_id"`
	CustomerRef          string           `json:"customer_ref" bson:"customer_ref"`
	Platform             billing.Platform `json:"payment_platform" bson:"payment_platform"`
	Status               billing.Status   `json:"status" bson:"status"`
	SoftwareLimit        int64            `json:"software_limit" bson:"software_limit"`
	SoftwareLimitRemains int64            `json:"software_limit_remains" bson:"software_limit_remains"`
	UpdatedAt            time.Time        `json:"updated_at" bson:"updated_at"`
}

// Key returns the identity of the license row.
func (l *License) Key() LicenseKey {
	return LicenseKey{Email: l.Email, ProductRef: l.ProductID, SubscriptionID: l.SubscriptionID}
}

// SubscriptionKey returns the key of the owning subscription.
func (l *License) SubscriptionKey() SubscriptionKey {
	return SubscriptionKey{ID: l.SubscriptionID, Platform: l.Platform}
}

// LicenseUpdate replaces the mutable fields of a license row.
type LicenseUpdate struct {
	ExpiryDate           *time.Time
	Status               billing.Status
	SoftwareLimit        int64
	SoftwareLimitRemains int64
	PaymentPlan          string
	CustomerRef          string
	At                   time.Time
}

// NormalizeEmail is the canonical form emails are stored and queried in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
