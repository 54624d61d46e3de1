package entitlement

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is used in tests and for local
// development without a database. Records are copied on the way in and out,
// so callers never share memory with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	customers     map[string]*Customer // by id
	accounts      map[string]*Account  // by email
	subscriptions map[SubscriptionKey]*Subscription
	licenses      map[LicenseKey]*License
	licenseOrder  []LicenseKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:     make(map[string]*Customer),
		accounts:      make(map[string]*Account),
		subscriptions: make(map[SubscriptionKey]*Subscription),
		licenses:      make(map[LicenseKey]*License),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) FindCustomerByEmail(_ context.Context, email string) (*Customer, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateCustomer(_ context.Context, c *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[c.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range s.customers {
		if existing.Email == c.Email {
			return ErrAlreadyExists
		}
	}
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *MemoryStore) FindAccount(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.Email]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	s.accounts[a.Email] = &cp
	return nil
}

func (s *MemoryStore) UpdateAccountPassword(_ context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[NormalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpsertSubscription(_ context.Context, u SubscriptionUpdate) error {
	if err := u.Key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[u.Key]
	if !ok {
		sub = &Subscription{SubscriptionKey: u.Key, CreatedAt: u.At}
		s.subscriptions[u.Key] = sub
	}
	sub.CustomerID = u.CustomerID
	sub.ProductID = u.ProductID
	sub.ProductName = u.ProductName
	sub.PriceCents = u.PriceCents
	sub.Status = u.Status
	sub.CurrentPeriodEnd = copyTime(u.CurrentPeriodEnd)
	if u.StartDate != nil {
		sub.StartDate = copyTime(u.StartDate)
	}
	if u.AutoRenewal != nil {
		v := *u.AutoRenewal
		sub.AutoRenewal = &v
	}
	sub.UpdatedAt = u.At
	return nil
}

func (s *MemoryStore) FindSubscription(_ context.Context, key SubscriptionKey) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copySubscription(sub), nil
}

func (s *MemoryStore) FindSubscriptions(_ context.Context, keys []SubscriptionKey) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Subscription, 0, len(keys))
	seen := make(map[SubscriptionKey]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if sub, ok := s.subscriptions[k]; ok {
			out = append(out, copySubscription(sub))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindSubscriptionsByCustomer(_ context.Context, customerIDs []string) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Subscription
	for _, sub := range s.subscriptions {
		if sub.CustomerID != "" && slices.Contains(customerIDs, sub.CustomerID) {
			out = append(out, copySubscription(sub))
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *MemoryStore) FindLicense(_ context.Context, key LicenseKey) (*License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.licenses[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLicense(l), nil
}

func (s *MemoryStore) InsertLicense(_ context.Context, l *License) error {
	key := l.Key()
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.licenses[key]; ok {
		return ErrAlreadyExists
	}
	s.licenses[key] = copyLicense(l)
	s.licenseOrder = append(s.licenseOrder, key)
	return nil
}

func (s *MemoryStore) UpdateLicense(_ context.Context, key LicenseKey, u LicenseUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[key]
	if !ok {
		return ErrNotFound
	}
	l.ExpiryDate = copyTime(u.ExpiryDate)
	l.Status = u.Status
	l.SoftwareLimit = u.SoftwareLimit
	l.SoftwareLimitRemains = u.SoftwareLimitRemains
	if u.PaymentPlan != "" {
		l.PaymentPlan = u.PaymentPlan
	}
	if u.CustomerRef != "" {
		l.CustomerRef = u.CustomerRef
	}
	l.UpdatedAt = u.At
	return nil
}

func (s *MemoryStore) FindLicensesByEmail(_ context.Context, email string) ([]*License, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*License
	for _, k := range s.licenseOrder {
		if k.Email == email {
			out = append(out, copyLicense(s.licenses[k]))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListSubscribedLicenses(_ context.Context) ([]*License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*License, 0, len(s.licenseOrder))
	for _, k := range s.licenseOrder {
		if k.SubscriptionID != "" {
			out = append(out, copyLicense(s.licenses[k]))
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// SetLicense overwrites a license row as is. It exists for seeding fixtures.
func (s *MemoryStore) SetLicense(l *License) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := l.Key()
	if _, ok := s.licenses[key]; !ok {
		s.licenseOrder = append(s.licenseOrder, key)
	}
	s.licenses[key] = copyLicense(l)
}

// Counts returns the number of customers, accounts, subscriptions and licenses.
func (s *MemoryStore) Counts() (customers, accounts, subscriptions, licenses int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.customers), len(s.accounts), len(s.subscriptions), len(s.licenses)
}

// Licenses returns a snapshot of every license in insertion order.
func (s *MemoryStore) Licenses() []*License {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*License, 0, len(s.licenseOrder))
	for _, k := range s.licenseOrder {
		out = append(out, copyLicense(s.licenses[k]))
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copySubscription(s *Subscription) *Subscription {
	cp := *s
	cp.StartDate = copyTime(s.StartDate)
	cp.CurrentPeriodEnd = copyTime(s.CurrentPeriodEnd)
	if s.AutoRenewal != nil {
		v := *s.AutoRenewal
		cp.AutoRenewal = &v
	}
	return &cp
}

func copyLicense(l *License) *License {
	cp := *l
	cp.ExpiryDate = copyTime(l.ExpiryDate)
	return &cp
}
