// Package reconcile maps processor-side subscription state onto customers,
// login accounts, subscriptions and licenses. Checkout callbacks, webhooks
// and the daily sweep all go through Engine.Reconcile.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/omnibill/pkg/auth"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/catalog"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
)

const unknownProductName = "Unknown Product"

// Reconciler is the entry point shared by every trigger.
type Reconciler interface {
	Reconcile(ctx context.Context, ev Event) (Result, error)
}

// Engine applies subscription events to the entitlement store.
// It is safe for concurrent use.
type Engine struct {
	store   entitlement.Store
	catalog *catalog.Catalog

	notifier      Notifier
	async         bool
	notifyTimeout time.Duration
	wg            sync.WaitGroup

	hasher        *auth.Hasher
	newPassword   func() (string, error)
	newLicenseKey func() (string, error)

	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

var _ Reconciler = (*Engine)(nil)

// New creates an Engine. Without WithNotifier no notifications are sent.
func New(store entitlement.Store, c *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		catalog:       c,
		notifier:      NotifierFunc(func(context.Context, Notification) error { return nil }),
		notifyTimeout: 30 * time.Second,
		hasher:        auth.NewHasher(0),
		newPassword:   auth.GeneratePassword,
		newLicenseKey: auth.GenerateLicenseKey,
		now:           time.Now,
		log:           logger.Discard(),
		metrics:       NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("reconcile"))
	return e
}

// Wait blocks until background notifications have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Reconcile brings the stored records for one subscription in line with ev.
// Writes are not transactional. On a *StageError every earlier stage is
// persisted and the next event or sweep for the subscription completes the rest.
func (e *Engine) Reconcile(ctx context.Context, ev Event) (Result, error) {
	start := time.Now()
	res, err := e.reconcile(ctx, ev)
	e.metrics.observeReconcile(ev.Subscription.Platform, res, err, time.Since(start))

	log := e.log.With(
		logger.SubscriptionID(ev.Subscription.ID),
		logger.Platform(string(ev.Subscription.Platform)),
		slog.String("source", string(ev.Source)),
	)
	if err != nil {
		attrs := []any{logger.Error(err)}
		if stage, ok := FailedStage(err); ok {
			attrs = append(attrs, logger.Stage(string(stage)))
		}
		log.ErrorContext(ctx, "reconciliation failed", attrs...)
		return res, err
	}

	log.InfoContext(ctx, "subscription reconciled",
		slog.String("status", string(res.Status)),
		slog.Bool("new_customer", res.NewCustomer),
		slog.Bool("license_created", res.LicenseCreated),
		slog.Bool("credits_reset", res.CreditsReset),
		slog.Bool("credits_revoked", res.CreditsRevoked),
	)
	return res, nil
}

func (e *Engine) reconcile(ctx context.Context, ev Event) (Result, error) {
	sub := ev.Subscription
	email := entitlement.NormalizeEmail(sub.Email)

	switch {
	case sub.ID == "":
		return Result{}, fmt.Errorf("%w: missing subscription id", ErrInvalidEvent)
	case sub.Platform == "":
		return Result{}, fmt.Errorf("%w: missing payment platform", ErrInvalidEvent)
	case email == "":
		return Result{}, fmt.Errorf("%w: missing customer email", ErrInvalidEvent)
	case !sub.Status.Valid():
		return Result{}, fmt.Errorf("%w: %w %q", ErrInvalidEvent, billing.ErrInvalidStatus, sub.Status)
	}

	now := e.now().UTC()
	res := Result{Status: sub.Status}

	customer, created, err := e.resolveCustomer(ctx, sub, email, now)
	if err != nil {
		return res, &StageError{Stage: StageCustomer, Err: err}
	}
	res.CustomerID = customer.ID
	res.NewCustomer = created

	password, err := e.ensureAccount(ctx, email, customer.ID, now)
	if err != nil {
		return res, &StageError{Stage: StageAccount, Err: err}
	}
	res.AccountCreated = password != ""

	p, err := e.planFor(ctx, sub, email)
	if err != nil {
		return res, &StageError{Stage: StageSubscription, Err: err}
	}
	res.SoftwareLimit = p.limit

	err = e.store.UpsertSubscription(ctx, entitlement.SubscriptionUpdate{
		Key:              entitlement.SubscriptionKey{ID: sub.ID, Platform: sub.Platform},
		CustomerID:       customer.ID,
		ProductID:        p.productID,
		ProductName:      p.productName,
		PriceCents:       p.priceCents,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.PeriodEnd,
		StartDate:        startDate(sub.PeriodStart),
		AutoRenewal:      sub.AutoRenewal,
		At:               now,
	})
	if err != nil {
		return res, &StageError{Stage: StageSubscription, Err: err}
	}

	if err := e.applyLicense(ctx, ev, email, customer.ID, p, now, &res); err != nil {
		return res, &StageError{Stage: StageLicense, Err: err}
	}

	e.dispatch(ctx, res, Notification{
		To:          email,
		Name:        sub.Name,
		Password:    password,
		ProductName: p.productName,
		PlanName:    p.planName,
	})
	return res, nil
}

// resolveCustomer finds the customer by email or creates one. Processors
// issue their own customer ids, so the same person paying through both
// processors keeps the first id.
func (e *Engine) resolveCustomer(ctx context.Context, sub billing.Subscription, email string, now time.Time) (*entitlement.Customer, bool, error) {
	c, err := e.store.FindCustomerByEmail(ctx, email)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, entitlement.ErrNotFound) {
		return nil, false, err
	}

	c = &entitlement.Customer{
		ID:        cmp.Or(sub.CustomerID, uuid.NewString()),
		Name:      sub.Name,
		Email:     email,
		Phone:     sub.Phone,
		Country:   sub.Country,
		Platform:  sub.Platform,
		CreatedAt: now,
	}
	err = e.store.CreateCustomer(ctx, c)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, entitlement.ErrAlreadyExists) {
		return nil, false, err
	}

	// Either a concurrent event created the same customer, or the processor
	// customer id already belongs to another email.
	existing, ferr := e.store.FindCustomerByEmail(ctx, email)
	if ferr == nil {
		return existing, false, nil
	}
	if !errors.Is(ferr, entitlement.ErrNotFound) {
		return nil, false, ferr
	}
	c.ID = uuid.NewString()
	if err := e.store.CreateCustomer(ctx, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// ensureAccount creates the login account when it is missing and returns
// the generated password. An existing account yields an empty password.
func (e *Engine) ensureAccount(ctx context.Context, email, customerID string, now time.Time) (string, error) {
	_, err := e.store.FindAccount(ctx, email)
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, entitlement.ErrNotFound) {
		return "", err
	}

	password, err := e.newPassword()
	if err != nil {
		return "", err
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return "", err
	}

	err = e.store.CreateAccount(ctx, &entitlement.Account{
		Email:                email,
		PasswordHash:         hash,
		RegistrationDate:     now,
		ProcessorCustomerRef: customerID,
		UpdatedAt:            now,
	})
	switch {
	case errors.Is(err, entitlement.ErrAlreadyExists):
		return "", nil
	case err != nil:
		return "", err
	}
	return password, nil
}

type planInfo struct {
	productRef  string
	planName    string
	productID   string
	productName string
	priceCents  int64
	limit       int64
}

// planFor derives the plan for sub. A license already recorded for the
// subscription anchors the product: its stored plan is used when the
// processor reports no known plan or a plan of another product.
func (e *Engine) planFor(ctx context.Context, sub billing.Subscription, email string) (planInfo, error) {
	p, resolved := e.derivePlan(sub)

	stored, err := e.storedLicense(ctx, email, sub)
	if err != nil {
		return p, err
	}
	if stored == nil || (resolved && p.productRef == stored.ProductID) {
		return p, nil
	}
	if stored.PaymentPlan == "" {
		if resolved {
			return p, nil
		}
		p.productRef = stored.ProductID
		p.limit = stored.SoftwareLimit
		return p, nil
	}

	sub.PlanID = catalog.PlanRef{Product: stored.ProductID, Plan: stored.PaymentPlan}.String()
	q, ok := e.derivePlan(sub)
	if !ok {
		q.productRef = stored.ProductID
		q.planName = stored.PaymentPlan
		q.limit = stored.SoftwareLimit
	}
	return q, nil
}

// storedLicense returns the caller's license for the subscription, or nil.
func (e *Engine) storedLicense(ctx context.Context, email string, sub billing.Subscription) (*entitlement.License, error) {
	licenses, err := e.store.FindLicensesByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, entitlement.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for _, lic := range licenses {
		if lic.SubscriptionID == sub.ID && cmp.Or(lic.Platform, billing.PlatformStripe) == sub.Platform {
			return lic, nil
		}
	}
	return nil, nil
}

// derivePlan never fails. Unknown plans keep whatever the processor reported
// and get the lenient catalog limit, which is zero for an unknown plan name.
// The second result reports whether the catalog knew the plan.
func (e *Engine) derivePlan(sub billing.Subscription) (planInfo, bool) {
	if plan, err := e.catalog.Resolve(sub.PlanID); err == nil {
		return planInfo{
			productRef:  plan.ProductRef,
			planName:    plan.Name,
			productID:   cmp.Or(sub.ProductID, plan.SoftwareProductID),
			productName: plan.DisplayName(),
			priceCents:  cmp.Or(sub.PriceCents, plan.PriceCents),
			limit:       plan.SoftwareLimit,
		}, true
	}

	p := planInfo{
		productID:   sub.ProductID,
		productName: cmp.Or(sub.ProductName, unknownProductName),
		priceCents:  sub.PriceCents,
	}
	if ref, err := catalog.ParsePlanRef(sub.PlanID); err == nil {
		p.productRef, p.planName = ref.Product, ref.Plan
	} else {
		p.productRef, _ = e.catalog.DefaultProduct()
	}
	p.limit = e.catalog.SoftwareLimit(p.productRef, p.planName)
	return p, false
}

func (e *Engine) applyLicense(ctx context.Context, ev Event, email, customerID string, p planInfo, now time.Time, res *Result) error {
	sub := ev.Subscription
	key := entitlement.LicenseKey{Email: email, ProductRef: p.productRef, SubscriptionID: sub.ID}

	// Two attempts: an insert that loses a race against a concurrent event
	// falls through to the update path.
	for range 2 {
		existing, err := e.store.FindLicense(ctx, key)
		switch {
		case errors.Is(err, entitlement.ErrNotFound):
			lic, err := e.newLicense(sub, email, customerID, p, now)
			if err != nil {
				return err
			}
			err = e.store.InsertLicense(ctx, lic)
			if errors.Is(err, entitlement.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return err
			}
			res.LicenseID = lic.ID
			res.LicenseCreated = true
			res.CreditsReset = lic.SoftwareLimitRemains > 0
			res.CreditsRevoked = sub.Status != billing.StatusActive
			res.CreditsRemain = lic.SoftwareLimitRemains
			return nil

		case err != nil:
			return err
		}

		remains, outcome := nextCredits(sub.Status, p.limit, existing.SoftwareLimitRemains, existing.ExpiryDate, sub.PeriodEnd, ev.ForceCreditReset)
		err = e.store.UpdateLicense(ctx, key, entitlement.LicenseUpdate{
			ExpiryDate:           sub.PeriodEnd,
			Status:               sub.Status,
			SoftwareLimit:        p.limit,
			SoftwareLimitRemains: remains,
			PaymentPlan:          p.planName,
			CustomerRef:          customerID,
			At:                   now,
		})
		if err != nil {
			return err
		}
		res.LicenseID = existing.ID
		res.CreditsReset = outcome == creditsReset
		res.CreditsRevoked = outcome == creditsRevoked
		res.CreditsRemain = remains
		return nil
	}
	return fmt.Errorf("license %s/%s kept conflicting: %w", key.ProductRef, key.SubscriptionID, entitlement.ErrAlreadyExists)
}

func (e *Engine) newLicense(sub billing.Subscription, email, customerID string, p planInfo, now time.Time) (*entitlement.License, error) {
	licenseKey, err := e.newLicenseKey()
	if err != nil {
		return nil, err
	}
	return &entitlement.License{
		ID:                   uuid.NewString(),
		Username:             cmp.Or(sub.Name, email),
		Email:                email,
		Country:              sub.Country,
		LicenseKey:           licenseKey,
		RegistrationDate:     now,
		ExpiryDate:           sub.PeriodEnd,
		ProductID:            p.productRef,
		PaymentPlan:          p.planName,
		SubscriptionID:       sub.ID,
		CustomerRef:          customerID,
		Platform:             sub.Platform,
		Status:               sub.Status,
		SoftwareLimit:        p.limit,
		SoftwareLimitRemains: initialCredits(sub.Status, p.limit),
		UpdatedAt:            now,
	}, nil
}

// dispatch sends the welcome email when the login account was created here
// and a thank-you email when an existing customer got a new license. Plain
// status updates send nothing. Delivery failures are logged only.
func (e *Engine) dispatch(ctx context.Context, res Result, n Notification) {
	switch {
	case res.AccountCreated:
		n.Kind = KindWelcome
	case res.LicenseCreated:
		n.Kind = KindThankYou
		n.Password = ""
	default:
		return
	}

	if !e.async {
		e.notify(ctx, n)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("notification panicked", logger.Email(n.To), slog.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
		defer cancel()
		e.notify(ctx, n)
	}()
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	err := e.notifier.Notify(ctx, n)
	e.metrics.observeNotification(n.Kind, err)
	if err != nil {
		e.log.WarnContext(ctx, "failed to send notification",
			logger.Email(n.To),
			slog.String("kind", string(n.Kind)),
			logger.Error(err),
		)
	}
}

func startDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
