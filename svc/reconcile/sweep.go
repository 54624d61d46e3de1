package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/omnibill/pkg/locker"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/billing"
	"github.com/dmitrymomot/omnibill/svc/entitlement"
)

// SweepLockKey is the lock that keeps sweeps from overlapping.
const SweepLockKey = "omnibill:sweep"

// SweepConfig tunes the daily sweep.
type SweepConfig struct {
	Concurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"1"`
	Rate        float64       `env:"SWEEP_RATE" envDefault:"5"` // processor reads per second, <= 0 for no limit
	LockTTL     time.Duration `env:"SWEEP_LOCK_TTL" envDefault:"2h"`
	At          string        `env:"SWEEP_AT" envDefault:"00:00"` // daily run time, UTC
}

// SweepReport summarizes one sweep. Counts are license rows.
type SweepReport struct {
	Total      int       `json:"total"`
	Reconciled int       `json:"reconciled"`
	NotFound   int       `json:"not_found"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *SweepReport) add(o SweepReport) {
	r.Reconciled += o.Reconciled
	r.NotFound += o.NotFound
	r.Failed += o.Failed
}

// Sweeper re-reads every subscribed license from its processor and
// reconciles it. This catches events the webhooks missed and revokes
// subscriptions the processor no longer knows about.
type Sweeper struct {
	store      entitlement.Store
	reconciler Reconciler
	processors billing.Registry
	locker     locker.Locker
	cfg        SweepConfig
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

// SweepOption configures a Sweeper.
type SweepOption func(*Sweeper)

func WithSweepLogger(l *slog.Logger) SweepOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSweepMetrics(m *Metrics) SweepOption {
	return func(s *Sweeper) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithSweepClock(now func() time.Time) SweepOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a Sweeper. A nil locker uses an in-process lock.
func NewSweeper(store entitlement.Store, r Reconciler, processors billing.Registry, l locker.Locker, cfg SweepConfig, opts ...SweepOption) *Sweeper {
	if l == nil {
		l = locker.NewMemory()
	}
	cfg.Concurrency = max(cfg.Concurrency, 1)
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		store:      store,
		reconciler: r,
		processors: processors,
		locker:     l,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, cfg.Concurrency),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		log:        logger.Discard(),
		metrics:    NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("sweep"))
	return s
}

// SweepAll runs a full sweep and waits for it. It fails with
// ErrSweepInProgress when another sweep holds the lock.
func (s *Sweeper) SweepAll(ctx context.Context) (SweepReport, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return SweepReport{}, err
	}
	defer s.release(ctx, unlock)

	return s.run(ctx)
}

// Start takes the lock and runs the sweep in the background. It returns
// ErrSweepInProgress when a sweep is already running. The background run
// outlives ctx and is canceled by Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(s.ctx, unlock)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("sweep panicked", slog.Any("panic", r))
			}
		}()

		if _, err := s.run(s.ctx); err != nil {
			s.log.Error("background sweep failed", logger.Error(err))
		}
	}()
	return nil
}

// Wait blocks until background sweeps have finished.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

// Stop cancels background sweeps and waits for them.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Job adapts SweepAll to a scheduler job. A sweep that is still running
// from a manual trigger is not an error.
func (s *Sweeper) Job(ctx context.Context) error {
	_, err := s.SweepAll(ctx)
	if errors.Is(err, ErrSweepInProgress) {
		s.log.InfoContext(ctx, "scheduled sweep skipped, another sweep is running")
		return nil
	}
	return err
}

func (s *Sweeper) lock(ctx context.Context) (locker.Unlock, error) {
	unlock, err := s.locker.TryLock(ctx, SweepLockKey, s.cfg.LockTTL)
	switch {
	case errors.Is(err, locker.ErrLocked):
		return nil, ErrSweepInProgress
	case err != nil:
		return nil, err
	}
	return unlock, nil
}

func (s *Sweeper) release(ctx context.Context, unlock locker.Unlock) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("failed to release sweep lock", logger.Error(err))
	}
}

type licenseGroup struct {
	key      entitlement.SubscriptionKey
	licenses []*entitlement.License
}

// groupBySubscription keeps the first-seen order of subscriptions.
func groupBySubscription(licenses []*entitlement.License) []*licenseGroup {
	var groups []*licenseGroup
	index := make(map[entitlement.SubscriptionKey]*licenseGroup)
	for _, lic := range licenses {
		key := lic.SubscriptionKey()
		if key.Platform == "" {
			key.Platform = billing.PlatformStripe
		}
		g, ok := index[key]
		if !ok {
			g = &licenseGroup{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.licenses = append(g.licenses, lic)
	}
	return groups
}

func (s *Sweeper) run(ctx context.Context) (SweepReport, error) {
	report := SweepReport{StartedAt: s.now().UTC()}
	s.log.InfoContext(ctx, "subscription sweep started")

	licenses, err := s.store.ListSubscribedLicenses(ctx)
	if err != nil {
		return report, err
	}
	report.Total = len(licenses)
	groups := groupBySubscription(licenses)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, grp := range groups {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r := s.sweepGroup(ctx, grp)
			mu.Lock()
			report.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = s.now().UTC()
	s.log.InfoContext(ctx, "subscription sweep finished",
		slog.Int("total", report.Total),
		slog.Int("reconciled", report.Reconciled),
		slog.Int("not_found", report.NotFound),
		slog.Int("failed", report.Failed),
		logger.Duration(report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, ctx.Err()
}

// sweepGroup fetches one subscription and reconciles each of its license
// rows. Errors are counted per row and never stop the sweep.
func (s *Sweeper) sweepGroup(ctx context.Context, grp *licenseGroup) SweepReport {
	var r SweepReport
	log := s.log.With(
		logger.SubscriptionID(grp.key.ID),
		logger.Platform(string(grp.key.Platform)),
	)
	failAll := func(err error) SweepReport {
		log.ErrorContext(ctx, "failed to fetch subscription", logger.Error(err))
		for range grp.licenses {
			s.metrics.observeSweepRow("failed")
		}
		return SweepReport{Failed: len(grp.licenses)}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return failAll(err)
	}
	proc, err := s.processors.Get(grp.key.Platform)
	if err != nil {
		return failAll(err)
	}

	notFound := false
	sub, err := proc.FetchSubscription(ctx, grp.key.ID)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		log.WarnContext(ctx, "subscription no longer exists at processor, revoking")
		notFound = true
		sub = &billing.Subscription{
			ID:       grp.key.ID,
			Platform: grp.key.Platform,
			Status:   billing.StatusInactive,
		}
	case err != nil:
		return failAll(err)
	}

	for _, lic := range grp.licenses {
		ev := *sub
		ev.Email = lic.Email
		if ev.CustomerID == "" {
			ev.CustomerID = lic.CustomerRef
		}

		_, err := s.reconciler.Reconcile(ctx, Event{Subscription: ev, Source: SourceSweep})
		switch {
		case err != nil:
			r.Failed++
			s.metrics.observeSweepRow("failed")
			log.ErrorContext(ctx, "failed to reconcile license",
				logger.Email(lic.Email),
				logger.Error(err),
			)
		case notFound:
			r.NotFound++
			s.metrics.observeSweepRow("not_found")
		default:
			r.Reconciled++
			s.metrics.observeSweepRow("reconciled")
		}
	}
	return r
}
