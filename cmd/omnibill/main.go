// Command omnibill runs the subscription reconciliation service: checkout
// and webhook routes, the customer dashboard API and the daily sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	accountmod "github.com/dmitrymomot/omnibill/modules/account"
	"github.com/dmitrymomot/omnibill/modules/payments"
	"github.com/dmitrymomot/omnibill/pkg/auth"
	"github.com/dmitrymomot/omnibill/pkg/clientip"
	"github.com/dmitrymomot/omnibill/pkg/config"
	"github.com/dmitrymomot/omnibill/pkg/email"
	"github.com/dmitrymomot/omnibill/pkg/httpserver"
	"github.com/dmitrymomot/omnibill/pkg/locker"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/pkg/ratelimiter"
	"github.com/dmitrymomot/omnibill/pkg/redis"
	"github.com/dmitrymomot/omnibill/pkg/requestid"
	"github.com/dmitrymomot/omnibill/pkg/scheduler"
	"github.com/dmitrymomot/omnibill/svc/account"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/catalog"
	"github.com/dmitrymomot/omnibill/svc/reconcile"
)

type appConfig struct {
	StoreDriver   string        `env:"STORE_DRIVER" envDefault:"mongo"` // mongo, postgres or memory
	CatalogPath   string        `env:"CATALOG_PATH"`
	RedisEnabled  bool          `env:"REDIS_ENABLED" envDefault:"false"`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"10"`
	NotifyAsync   bool          `env:"NOTIFY_ASYNC" envDefault:"false"`
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"30s"`
}

func main() {
	log := logger.New(
		logger.WithConfig(config.MustLoad[logger.Config](), "omnibill"),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("service stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg, err := config.Load[appConfig]()
	if err != nil {
		return err
	}

	plans, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.StoreDriver, log)
	if err != nil {
		return err
	}
	defer store.close()

	checks := []httpserver.Check{{Name: "store", Check: store.check}}

	var rdb *goredis.Client
	if cfg.RedisEnabled {
		rdb, err = redis.Connect(ctx, config.MustLoad[redis.Config]())
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		checks = append(checks, httpserver.Check{Name: "redis", Check: redis.Healthcheck(rdb)})
	}

	stripe, paypal := openProcessors(plans, log)
	registry := billing.NewRegistry(processors(stripe, paypal)...)

	emailCfg := config.MustLoad[email.Config]()
	sender, err := email.NewSender(emailCfg)
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}
	accountCfg := config.MustLoad[account.Config]()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := reconcile.NewMetrics(reg)
	hasher := auth.NewHasher(cfg.BcryptCost)

	engineOpts := []reconcile.Option{
		reconcile.WithLogger(log),
		reconcile.WithMetrics(metrics),
		reconcile.WithHasher(hasher),
		reconcile.WithNotifier(reconcile.NewEmailNotifier(sender, accountCfg.DashboardURL, emailCfg.SupportEmail)),
	}
	if cfg.NotifyAsync {
		engineOpts = append(engineOpts, reconcile.WithAsyncNotify(cfg.NotifyTimeout))
	}
	engine := reconcile.New(store, plans, engineOpts...)
	defer engine.Wait()

	var sweepLock locker.Locker = locker.NewMemory()
	if rdb != nil {
		sweepLock = locker.NewRedis(rdb, "omnibill:lock:")
	}
	sweepCfg := config.MustLoad[reconcile.SweepConfig]()
	sweeper := reconcile.NewSweeper(store, engine, registry, sweepLock, sweepCfg,
		reconcile.WithSweepLogger(log),
		reconcile.WithSweepMetrics(metrics),
	)
	defer sweeper.Stop()

	hour, minute, err := scheduler.ParseClock(sweepCfg.At)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.WithLogger(log))
	if err := sched.AddJob("subscription_sweep", scheduler.Daily(hour, minute, time.UTC), sweeper.Job); err != nil {
		return err
	}

	paymentOpts := []payments.Option{payments.WithLogger(log), payments.WithSweeper(sweeper)}
	accountOpts := []account.Option{account.WithLogger(log), account.WithHasher(hasher), account.WithSoftware(plans)}
	if stripe != nil {
		paymentOpts = append(paymentOpts, payments.WithStripe(stripe))
		accountOpts = append(accountOpts, account.WithStripePortal(stripe))
	}
	if paypal != nil {
		paymentOpts = append(paymentOpts, payments.WithPayPal(paypal))
		accountOpts = append(accountOpts, account.WithPayPal(paypal, paypal))
	}
	syncer := reconcile.NewSyncer(engine, registry, metrics, log)
	paymentRoutes := payments.New(config.MustLoad[payments.Config](), syncer, paymentOpts...)

	limiter, err := loginLimiter(rdb)
	if err != nil {
		return err
	}
	dashboard := accountmod.New(config.MustLoad[accountmod.Config](),
		account.NewService(accountCfg, store, engine, accountOpts...),
		accountmod.WithLogger(log),
		accountmod.WithLimiter(limiter),
	)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware, middleware.Recoverer)
	r.Get("/health", httpserver.HealthCheckHandler(log, checks...))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	paymentRoutes.Routes(r)
	dashboard.Routes(r)

	go func() {
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorContext(ctx, "scheduler stopped", logger.Error(err))
		}
	}()

	srv := httpserver.New(config.MustLoad[httpserver.Config](), httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return catalog.Load(f)
}

// openProcessors builds the adapters whose credentials are configured.
func openProcessors(plans *catalog.Catalog, log *slog.Logger) (*billing.StripeProcessor, *billing.PayPalProcessor) {
	var (
		stripe *billing.StripeProcessor
		paypal *billing.PayPalProcessor
	)
	if cfg, err := config.Load[billing.StripeConfig](); err != nil {
		log.Warn("card processor disabled", logger.Error(err))
	} else if stripe, err = billing.NewStripeProcessor(cfg, plans); err != nil {
		log.Error("card processor disabled", logger.Error(err))
	}
	if cfg, err := config.Load[billing.PayPalConfig](); err != nil {
		log.Warn("wallet processor disabled", logger.Error(err))
	} else if paypal, err = billing.NewPayPalProcessor(cfg, plans); err != nil {
		log.Error("wallet processor disabled", logger.Error(err))
	} else {
		if cfg.Sandbox {
			log.Info("wallet processor running in sandbox mode")
		}
		if cfg.WebhookID == "" {
			log.Warn("PAYPAL_WEBHOOK_ID not set, wallet webhook signatures are not verified")
		}
	}
	return stripe, paypal
}

func processors(stripe *billing.StripeProcessor, paypal *billing.PayPalProcessor) []billing.Processor {
	var out []billing.Processor
	if stripe != nil {
		out = append(out, stripe)
	}
	if paypal != nil {
		out = append(out, paypal)
	}
	return out
}

func loginLimiter(rdb *goredis.Client) (ratelimiter.Limiter, error) {
	var store ratelimiter.Store = ratelimiter.NewMemoryStore()
	if rdb != nil {
		store = ratelimiter.NewRedisStore(rdb, "omnibill:ratelimit:")
	}
	return ratelimiter.NewBucket(store, config.MustLoad[ratelimiter.Config]())
}
