package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/billing"
)

// Syncer turns processor callbacks into reconciliation events.
type Syncer struct {
	reconciler Reconciler
	processors billing.Registry
	metrics    *Metrics
	log        *slog.Logger
}

// NewSyncer creates a Syncer. Nil metrics and logger are allowed.
func NewSyncer(r Reconciler, processors billing.Registry, m *Metrics, log *slog.Logger) *Syncer {
	if m == nil {
		m = NewMetrics(nil)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Syncer{
		reconciler: r,
		processors: processors,
		metrics:    m,
		log:        log.With(logger.Component("sync")),
	}
}

// SyncSubscription reconciles a subscription the caller already fetched,
// for example after a completed checkout.
func (s *Syncer) SyncSubscription(ctx context.Context, sub *billing.Subscription, source Source) (Result, error) {
	if sub == nil {
		return Result{}, fmt.Errorf("%w: no subscription", ErrInvalidEvent)
	}
	return s.reconciler.Reconcile(ctx, Event{Subscription: *sub, Source: source})
}

// ApplyWebhook re-reads the subscription an event refers to and reconciles
// it. The event action may force the status: a processor read right after
// a payment can lag behind the event itself. Ignored events and events
// without a subscription return a nil result and no error.
func (s *Syncer) ApplyWebhook(ctx context.Context, ev *billing.WebhookEvent) (*Result, error) {
	s.metrics.observeWebhook(ev.Platform, ev.Type)

	log := s.log.With(
		logger.EventType(ev.Type),
		logger.Platform(string(ev.Platform)),
		slog.String("event_id", ev.ID),
	)
	if ev.Action == billing.ActionIgnore || ev.SubscriptionID == "" {
		log.DebugContext(ctx, "webhook event ignored")
		return nil, nil
	}

	proc, err := s.processors.Get(ev.Platform)
	if err != nil {
		return nil, err
	}
	sub, err := proc.FetchSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", ev.SubscriptionID, err)
	}

	if status, ok := ev.Action.ForcedStatus(); ok && sub.Status != status {
		log.InfoContext(ctx, "webhook overrides processor status",
			logger.SubscriptionID(sub.ID),
			slog.String("processor_status", string(sub.Status)),
			slog.String("status", string(status)),
		)
		sub.Status = status
	}

	res, err := s.reconciler.Reconcile(ctx, Event{
		Subscription:     *sub,
		Source:           SourceWebhook,
		ForceCreditReset: ev.Action == billing.ActionPaymentSucceeded,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
