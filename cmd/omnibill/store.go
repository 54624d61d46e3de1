package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/omnibill/pkg/config"
	"github.com/dmitrymomot/omnibill/pkg/mongo"
	"github.com/dmitrymomot/omnibill/pkg/pg"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
)

type openedStore struct {
	entitlement.Store
	check func(context.Context) error
	close func()
}

// openStore connects the entitlement store selected by driver.
func openStore(ctx context.Context, driver string, log *slog.Logger) (*openedStore, error) {
	switch strings.ToLower(driver) {
	case "mongo", "mongodb", "":
		db, err := mongo.NewWithDatabase(ctx, config.MustLoad[mongo.Config]())
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		disconnect := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(ctx)
		}
		s := entitlement.NewMongoStore(db)
		if err := s.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, fmt.Errorf("mongodb indexes: %w", err)
		}
		return &openedStore{Store: s, check: mongo.Healthcheck(db.Client()), close: disconnect}, nil

	case "postgres", "pg":
		cfg := config.MustLoad[pg.Config]()
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx, pool, entitlement.Migrations, cfg, log); err != nil {
			pool.Close()
			return nil, err
		}
		return &openedStore{
			Store: entitlement.NewPostgresStore(pool),
			check: pg.Healthcheck(pool),
			close: pool.Close,
		}, nil

	case "memory":
		log.Warn("using in-memory entitlement store, data is lost on restart")
		s := entitlement.NewMemoryStore()
		return &openedStore{Store: s, check: s.Ping, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
}
