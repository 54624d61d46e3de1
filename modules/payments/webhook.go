package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/omnibill/handler"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/svc/billing"
)

// MaxWebhookBody caps webhook payloads.
const MaxWebhookBody = 1 << 20

type webhookRequest struct {
	header  http.Header
	payload []byte
}

// bindWebhook keeps the raw body: signatures are computed over its exact bytes.
func bindWebhook(r *http.Request, v any) error {
	req, ok := v.(*webhookRequest)
	if !ok {
		return errors.New("bindWebhook: unsupported target")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBody+1))
	if err != nil {
		return handler.NewHTTPError(http.StatusBadRequest, "Webhook Error: unreadable body").Wrap(err)
	}
	if len(body) > MaxWebhookBody {
		return handler.NewHTTPError(http.StatusRequestEntityTooLarge, "Webhook Error: payload too large")
	}
	req.header = r.Header
	req.payload = body
	return nil
}

type webhookParser interface {
	ParseWebhook(ctx context.Context, header http.Header, payload []byte) (*billing.WebhookEvent, error)
}

func (m *Module) stripeWebhook(ctx handler.Context, req webhookRequest) handler.Response {
	return m.handleWebhook(ctx, m.stripe, req)
}

func (m *Module) paypalWebhook(ctx handler.Context, req webhookRequest) handler.Response {
	return m.handleWebhook(ctx, m.paypal, req)
}

// handleWebhook rejects payloads that fail verification and acknowledges
// everything else. Processing failures are logged, never returned.
func (m *Module) handleWebhook(ctx handler.Context, p webhookParser, req webhookRequest) handler.Response {
	ev, err := p.ParseWebhook(ctx, req.header, req.payload)
	if err != nil {
		if errors.Is(err, billing.ErrWebhookVerification) || errors.Is(err, billing.ErrInvalidWebhookPayload) {
			return handler.Error(handler.NewHTTPError(http.StatusBadRequest, "Webhook Error: invalid payload").Wrap(err))
		}
		m.log.ErrorContext(ctx, "webhook parsing failed", logger.Error(err))
		return handler.Text(http.StatusOK, "Webhook received")
	}

	log := m.log.With(
		logger.Platform(string(ev.Platform)),
		logger.EventType(ev.Type),
		logger.SubscriptionID(ev.SubscriptionID),
	)
	res, err := m.syncer.ApplyWebhook(ctx, ev)
	switch {
	case err != nil:
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
	case res != nil:
		log.InfoContext(ctx, "webhook processed",
			slog.String("status", string(res.Status)),
			slog.Bool("credits_reset", res.CreditsReset),
			slog.Bool("credits_revoked", res.CreditsRevoked),
		)
	}
	return handler.Text(http.StatusOK, "Webhook received")
}
