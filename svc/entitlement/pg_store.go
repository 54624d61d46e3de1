package entitlement

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/omnibill/pkg/pg"
	"github.com/dmitrymomot/omnibill/svc/billing"
)

// Migrations holds the goose migrations for the PostgreSQL store.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// PostgresStore implements Store on top of PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over the pool. The schema is expected to
// be migrated with Migrations.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var (
		c        Customer
		platform string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, country, payment_platform, created_at
		FROM customers WHERE email = $1`, NormalizeEmail(email),
	).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Country, &platform, &c.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	c.Platform = billing.Platform(platform)
	return &c, nil
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *Customer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, name, email, phone, country, payment_platform, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.Email, c.Phone, c.Country, string(c.Platform), c.CreatedAt,
	)
	return pgError(err)
}

func (s *PostgresStore) FindAccount(ctx context.Context, email string) (*Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx, `
		SELECT email, password_hash, registration_date, processor_customer_ref, updated_at
		FROM accounts WHERE email = $1`, NormalizeEmail(email),
	).Scan(&a.Email, &a.PasswordHash, &a.RegistrationDate, &a.ProcessorCustomerRef, &a.UpdatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (email, password_hash, registration_date, processor_customer_ref, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.Email, a.PasswordHash, a.RegistrationDate, a.ProcessorCustomerRef, a.UpdatedAt,
	)
	return pgError(err)
}

func (s *PostgresStore) UpdateAccountPassword(ctx context.Context, email, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE email = $1`,
		NormalizeEmail(email), passwordHash, time.Now().UTC(),
	)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, u SubscriptionUpdate) error {
	if err := u.Key.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			subscription_id, payment_platform, customer_id, product_id, product_name,
			price_cents, status, start_date, current_period_end, auto_renewal, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (subscription_id, payment_platform) DO UPDATE SET
			customer_id        = EXCLUDED.customer_id,
			product_id         = EXCLUDED.product_id,
			product_name       = EXCLUDED.product_name,
			price_cents        = EXCLUDED.price_cents,
			status             = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			start_date         = COALESCE(EXCLUDED.start_date, subscriptions.start_date),
			auto_renewal       = COALESCE(EXCLUDED.auto_renewal, subscriptions.auto_renewal),
			updated_at         = EXCLUDED.updated_at`,
		u.Key.ID, string(u.Key.Platform), u.CustomerID, u.ProductID, u.ProductName,
		u.PriceCents, string(u.Status), u.StartDate, u.CurrentPeriodEnd, u.AutoRenewal, u.At,
	)
	return pgError(err)
}

const subscriptionColumns = `subscription_id, payment_platform, customer_id, product_id, product_name,
	price_cents, status, start_date, current_period_end, auto_renewal, created_at, updated_at`

func (s *PostgresStore) FindSubscription(ctx context.Context, key SubscriptionKey) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_id = $1 AND payment_platform = $2`,
		key.ID, string(key.Platform),
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, pgError(err)
	}
	return sub, nil
}

func (s *PostgresStore) FindSubscriptions(ctx context.Context, keys []SubscriptionKey) ([]*Subscription, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ids := make([]string, len(keys))
	platforms := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
		platforms[i] = string(k.Platform)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE (subscription_id, payment_platform) IN (
			SELECT * FROM unnest($1::text[], $2::text[])
		)`, ids, platforms)
	if err != nil {
		return nil, pgError(err)
	}
	return collectSubscriptions(rows)
}

func (s *PostgresStore) FindSubscriptionsByCustomer(ctx context.Context, customerIDs []string) ([]*Subscription, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE customer_id = ANY($1::text[])
		ORDER BY created_at, subscription_id`, customerIDs)
	if err != nil {
		return nil, pgError(err)
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*Subscription, error) {
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, pgError(err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError(err)
	}
	return out, nil
}

const licenseColumns = `id, username, email, country, license_key, registration_date, expiry_date,
	product_id, payment_plan, subscription_id, customer_ref, payment_platform, status,
	software_limit, software_limit_remains, updated_at`

func (s *PostgresStore) FindLicense(ctx context.Context, key LicenseKey) (*License, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE email = $1 AND product_id = $2 AND subscription_id = $3`,
		key.Email, key.ProductRef, key.SubscriptionID,
	)
	l, err := scanLicense(row)
	if err != nil {
		return nil, pgError(err)
	}
	return l, nil
}

func (s *PostgresStore) InsertLicense(ctx context.Context, l *License) error {
	if err := l.Key().Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		l.ID, l.Username, l.Email, l.Country, l.LicenseKey, l.RegistrationDate, l.ExpiryDate,
		l.ProductID, l.PaymentPlan, l.SubscriptionID, l.CustomerRef, string(l.Platform), string(l.Status),
		l.SoftwareLimit, l.SoftwareLimitRemains, l.UpdatedAt,
	)
	return pgError(err)
}

func (s *PostgresStore) UpdateLicense(ctx context.Context, key LicenseKey, u LicenseUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE licenses SET
			expiry_date            = $4,
			status                 = $5,
			software_limit         = $6,
			software_limit_remains = $7,
			payment_plan           = COALESCE(NULLIF($8, ''), payment_plan),
			customer_ref           = COALESCE(NULLIF($9, ''), customer_ref),
			updated_at             = $10
		WHERE email = $1 AND product_id = $2 AND subscription_id = $3`,
		key.Email, key.ProductRef, key.SubscriptionID,
		u.ExpiryDate, string(u.Status), u.SoftwareLimit, u.SoftwareLimitRemains,
		u.PaymentPlan, u.CustomerRef, u.At,
	)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindLicensesByEmail(ctx context.Context, email string) ([]*License, error) {
	return s.queryLicenses(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE email = $1 ORDER BY registration_date`,
		NormalizeEmail(email),
	)
}

func (s *PostgresStore) ListSubscribedLicenses(ctx context.Context) ([]*License, error) {
	return s.queryLicenses(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE subscription_id <> '' ORDER BY registration_date`,
	)
}

func (s *PostgresStore) queryLicenses(ctx context.Context, query string, args ...any) ([]*License, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError(err)
	}
	defer rows.Close()

	var out []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, pgError(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError(err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := pg.Healthcheck(s.pool)(ctx); err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub              Subscription
		platform, status string
	)
	err := row.Scan(
		&sub.ID, &platform, &sub.CustomerID, &sub.ProductID, &sub.ProductName,
		&sub.PriceCents, &status, &sub.StartDate, &sub.CurrentPeriodEnd, &sub.AutoRenewal,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Platform = billing.Platform(platform)
	sub.Status = billing.Status(status)
	return &sub, nil
}

func scanLicense(row pgx.Row) (*License, error) {
	var (
		l                License
		platform, status string
	)
	err := row.Scan(
		&l.ID, &l.Username, &l.Email, &l.Country, &l.LicenseKey, &l.RegistrationDate, &l.ExpiryDate,
		&l.ProductID, &l.PaymentPlan, &l.SubscriptionID, &l.CustomerRef, &platform, &status,
		&l.SoftwareLimit, &l.SoftwareLimitRemains, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Platform = billing.Platform(platform)
	l.Status = billing.Status(status)
	return &l, nil
}

func pgError(err error) error {
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		return ErrNotFound
	case pg.IsDuplicateKeyError(err):
		return errors.Join(ErrAlreadyExists, err)
	default:
		return errors.Join(ErrStore, err)
	}
}
