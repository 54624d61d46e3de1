// Package account serves the customer dashboard: login, password changes,
// profile details and self-service subscription management.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/omnibill/pkg/auth"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

// Config holds dashboard settings.
type Config struct {
	DashboardURL string `env:"DASHBOARD_URL" envDefault:"https://web.omnilead.pro/public/dashboard.html"`
}

// PortalProvider opens the card processor's billing portal.
type PortalProvider interface {
	CustomerPortal(ctx context.Context, customerID, returnURL string) (string, error)
}

// ManageURLProvider builds the wallet processor page where a buyer manages
// a subscription.
type ManageURLProvider interface {
	ManageURL(subscriptionID string) string
}

// Service implements the dashboard operations. Callers are identified by
// email only; authenticating that email is the caller's job.
type Service struct {
	cfg        Config
	store      entitlement.Store
	reconciler reconcile.Reconciler
	canceler   Canceler
	portal     PortalProvider
	manage     ManageURLProvider
	catalog    SoftwareFinder
	hasher     *auth.Hasher
	log        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithHasher(h *auth.Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithStripePortal enables StripePortal.
func WithStripePortal(p PortalProvider) Option {
	return func(s *Service) { s.portal = p }
}

// WithPayPal enables wallet subscription cancellation and management.
func WithPayPal(c Canceler, m ManageURLProvider) Option {
	return func(s *Service) {
		s.canceler = c
		s.manage = m
	}
}

// WithSoftware sets the catalog AvailableSoftware takes download entries from.
func WithSoftware(f SoftwareFinder) Option {
	return func(s *Service) { s.catalog = f }
}

// NewService creates the dashboard service.
func NewService(cfg Config, store entitlement.Store, r reconcile.Reconciler, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		store:      store,
		reconciler: r,
		hasher:     auth.NewHasher(0),
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("account"))
	return s
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Email       string `json:"email"`
	RedirectURL string `json:"redirectUrl"`
}

// Login checks the dashboard credentials. Unknown emails and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = entitlement.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	acct, err := s.store.FindAccount(ctx, email)
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}

	if err := s.hasher.Compare(acct.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &LoginResult{Email: acct.Email, RedirectURL: s.cfg.DashboardURL}, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, email, current, next string) error {
	if err := auth.ValidatePassword(next); err != nil {
		return err
	}

	acct, err := s.store.FindAccount(ctx, email)
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		return ErrAccountNotFound
	case err != nil:
		return err
	}

	if err := s.hasher.Compare(acct.PasswordHash, current); err != nil {
		return ErrIncorrectPassword
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAccountPassword(ctx, acct.Email, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.log.InfoContext(ctx, "password changed", logger.Email(acct.Email))
	return nil
}

// Details is the customer profile shown on the dashboard.
type Details struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Country string `json:"country"`
}

func (s *Service) Details(ctx context.Context, email string) (*Details, error) {
	c, err := s.store.FindCustomerByEmail(ctx, email)
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		return nil, ErrCustomerNotFound
	case err != nil:
		return nil, err
	}
	return &Details{Name: c.Name, Email: c.Email, Phone: c.Phone, Country: c.Country}, nil
}

// StripePortal returns a billing portal URL for the signed-in customer.
func (s *Service) StripePortal(ctx context.Context, email, returnURL string) (string, error) {
	if s.portal == nil {
		return "", ErrPortalUnavailable
	}

	c, err := s.store.FindCustomerByEmail(ctx, email)
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		return "", ErrCustomerNotFound
	case err != nil:
		return "", err
	}
	return s.portal.CustomerPortal(ctx, c.ID, returnURL)
}
