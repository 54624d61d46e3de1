package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrymomot/omnibill/svc/billing"
)

// Metrics holds the reconciliation collectors.
type Metrics struct {
	reconciles    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	sweepRows     *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "omnibill_reconcile_total",
			Help: "Reconciliations by payment platform and result.",
		}, []string{"platform", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omnibill_reconcile_duration_seconds",
			Help:    "Time spent reconciling one subscription event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		sweepRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "omnibill_sweep_rows_total",
			Help: "License rows processed by the daily sweep.",
		}, []string{"result"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "omnibill_webhook_events_total",
			Help: "Webhook events received by platform and event type.",
		}, []string{"platform", "type"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "omnibill_notifications_total",
			Help: "Customer notifications by kind and result.",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) observeReconcile(platform billing.Platform, res Result, err error, d time.Duration) {
	result := "updated"
	switch {
	case err != nil:
		result = "failed"
	case res.LicenseCreated:
		result = "created"
	}
	m.reconciles.WithLabelValues(string(platform), result).Inc()
	m.duration.WithLabelValues(string(platform)).Observe(d.Seconds())
}

func (m *Metrics) observeSweepRow(result string) {
	m.sweepRows.WithLabelValues(result).Inc()
}

func (m *Metrics) observeWebhook(platform billing.Platform, eventType string) {
	m.webhookEvents.WithLabelValues(string(platform), eventType).Inc()
}

func (m *Metrics) observeNotification(kind Kind, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}
