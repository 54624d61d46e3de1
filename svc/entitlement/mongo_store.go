package entitlement

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names.
const (
	CustomersCollection     = "customers"
	SubscriptionsCollection = "subscriptions"
	LicensesCollection      = "users"
	AccountsCollection      = "websiteusers"
)

// MongoStore implements Store on top of a MongoDB database.
type MongoStore struct {
	db            *mongo.Database
	customers     *mongo.Collection
	subscriptions *mongo.Collection
	licenses      *mongo.Collection
	accounts      *mongo.Collection
}

// NewMongoStore creates a store over the given database.
// Call EnsureIndexes once at startup.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:            db,
		customers:     db.Collection(CustomersCollection),
		subscriptions: db.Collection(SubscriptionsCollection),
		licenses:      db.Collection(LicensesCollection),
		accounts:      db.Collection(AccountsCollection),
	}
}

var _ Store = (*MongoStore)(nil)

// EnsureIndexes creates the unique indexes the store relies on for its
// upsert-by-key semantics.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := s.customers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: unique,
	}); err != nil {
		return errors.Join(ErrStore, err)
	}

	if _, err := s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subscription_id", Value: 1}, {Key: "payment_platform", Value: 1}},
			Options: unique,
		},
		{Keys: bson.D{{Key: "customer_id", Value: 1}}},
	}); err != nil {
		return errors.Join(ErrStore, err)
	}

	if _, err := s.licenses.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}, {Key: "product_id", Value: 1}, {Key: "subscription_id", Value: 1}},
			Options: unique,
		},
		{Keys: bson.D{{Key: "subscription_id", Value: 1}}},
	}); err != nil {
		return errors.Join(ErrStore, err)
	}

	return nil
}

func (s *MongoStore) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var c Customer
	err := s.customers.FindOne(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}}).Decode(&c)
	if err != nil {
		return nil, mongoError(err)
	}
	return &c, nil
}

func (s *MongoStore) CreateCustomer(ctx context.Context, c *Customer) error {
	if _, err := s.customers.InsertOne(ctx, c); err != nil {
		return mongoError(err)
	}
	return nil
}

func (s *MongoStore) FindAccount(ctx context.Context, email string) (*Account, error) {
	var a Account
	if err := s.accounts.FindOne(ctx, bson.D{{Key: "_id", Value: NormalizeEmail(email)}}).Decode(&a); err != nil {
		return nil, mongoError(err)
	}
	return &a, nil
}

func (s *MongoStore) CreateAccount(ctx context.Context, a *Account) error {
	if _, err := s.accounts.InsertOne(ctx, a); err != nil {
		return mongoError(err)
	}
	return nil
}

func (s *MongoStore) UpdateAccountPassword(ctx context.Context, email, passwordHash string) error {
	res, err := s.accounts.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: NormalizeEmail(email)}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: passwordHash},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return mongoError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpsertSubscription(ctx context.Context, u SubscriptionUpdate) error {
	if err := u.Key.Validate(); err != nil {
		return err
	}

	set := bson.D{
		{Key: "customer_id", Value: u.CustomerID},
		{Key: "product_id", Value: u.ProductID},
		{Key: "product_name", Value: u.ProductName},
		{Key: "price_cents", Value: u.PriceCents},
		{Key: "status", Value: u.Status},
		{Key: "current_period_end", Value: u.CurrentPeriodEnd},
		{Key: "updated_at", Value: u.At},
	}
	if u.StartDate != nil {
		set = append(set, bson.E{Key: "start_date", Value: *u.StartDate})
	}
	if u.AutoRenewal != nil {
		set = append(set, bson.E{Key: "auto_renewal", Value: *u.AutoRenewal})
	}

	_, err := s.subscriptions.UpdateOne(ctx,
		subscriptionFilter(u.Key),
		bson.D{
			{Key: "$set", Value: set},
			{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: u.At}}},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return mongoError(err)
	}
	return nil
}

func (s *MongoStore) FindSubscription(ctx context.Context, key SubscriptionKey) (*Subscription, error) {
	var sub Subscription
	if err := s.subscriptions.FindOne(ctx, subscriptionFilter(key)).Decode(&sub); err != nil {
		return nil, mongoError(err)
	}
	return &sub, nil
}

func (s *MongoStore) FindSubscriptions(ctx context.Context, keys []SubscriptionKey) ([]*Subscription, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	or := make(bson.A, 0, len(keys))
	for _, k := range keys {
		or = append(or, subscriptionFilter(k))
	}

	cur, err := s.subscriptions.Find(ctx, bson.D{{Key: "$or", Value: or}})
	if err != nil {
		return nil, mongoError(err)
	}

	var out []*Subscription
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoError(err)
	}
	return out, nil
}

func (s *MongoStore) FindSubscriptionsByCustomer(ctx context.Context, customerIDs []string) ([]*Subscription, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}

	cur, err := s.subscriptions.Find(ctx,
		bson.D{{Key: "customer_id", Value: bson.D{{Key: "$in", Value: customerIDs}}}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "subscription_id", Value: 1}}),
	)
	if err != nil {
		return nil, mongoError(err)
	}

	var out []*Subscription
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoError(err)
	}
	return out, nil
}

func (s *MongoStore) FindLicense(ctx context.Context, key LicenseKey) (*License, error) {
	var l License
	if err := s.licenses.FindOne(ctx, licenseFilter(key)).Decode(&l); err != nil {
		return nil, mongoError(err)
	}
	return &l, nil
}

func (s *MongoStore) InsertLicense(ctx context.Context, l *License) error {
	if err := l.Key().Validate(); err != nil {
		return err
	}
	if _, err := s.licenses.InsertOne(ctx, l); err != nil {
		return mongoError(err)
	}
	return nil
}

func (s *MongoStore) UpdateLicense(ctx context.Context, key LicenseKey, u LicenseUpdate) error {
	set := bson.D{
		{Key: "expiry_date", Value: u.ExpiryDate},
		{Key: "status", Value: u.Status},
		{Key: "software_limit", Value: u.SoftwareLimit},
		{Key: "software_limit_remains", Value: u.SoftwareLimitRemains},
		{Key: "updated_at", Value: u.At},
	}
	if u.PaymentPlan != "" {
		set = append(set, bson.E{Key: "payment_plan", Value: u.PaymentPlan})
	}
	if u.CustomerRef != "" {
		set = append(set, bson.E{Key: "customer_ref", Value: u.CustomerRef})
	}

	res, err := s.licenses.UpdateOne(ctx, licenseFilter(key), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return mongoError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) FindLicensesByEmail(ctx context.Context, email string) ([]*License, error) {
	return s.findLicenses(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}})
}

func (s *MongoStore) ListSubscribedLicenses(ctx context.Context) ([]*License, error) {
	return s.findLicenses(ctx, bson.D{{Key: "subscription_id", Value: bson.D{{Key: "$nin", Value: bson.A{nil, ""}}}}})
}

func (s *MongoStore) findLicenses(ctx context.Context, filter bson.D) ([]*License, error) {
	cur, err := s.licenses.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "registration_date", Value: 1}}))
	if err != nil {
		return nil, mongoError(err)
	}

	var out []*License
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoError(err)
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

func subscriptionFilter(k SubscriptionKey) bson.D {
	return bson.D{
		{Key: "subscription_id", Value: k.ID},
		{Key: "payment_platform", Value: k.Platform},
	}
}

func licenseFilter(k LicenseKey) bson.D {
	return bson.D{
		{Key: "email", Value: k.Email},
		{Key: "product_id", Value: k.ProductRef},
		{Key: "subscription_id", Value: k.SubscriptionID},
	}
}

func mongoError(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return errors.Join(ErrAlreadyExists, err)
	default:
		return errors.Join(ErrStore, err)
	}
}
