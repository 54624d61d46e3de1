package billing

// Action is what a webhook event asks the reconciliation to do with the
// subscription it refers to.
type Action string

const (
	ActionActivate         Action = "activate"          // status forced to active
	ActionCancel           Action = "cancel"            // status forced to canceled
	ActionSuspend          Action = "suspend"           // status forced to past_due
	ActionRefresh          Action = "refresh"           // status taken from the processor
	ActionPaymentSucceeded Action = "payment_succeeded" // active and credits reset
	ActionPaymentFailed    Action = "payment_failed"    // past_due and credits zeroed
	ActionIgnore           Action = "ignore"
)

// ForcedStatus returns the status an action imposes, if any.
func (a Action) ForcedStatus() (Status, bool) {
	switch a {
	case ActionActivate, ActionPaymentSucceeded:
		return StatusActive, true
	case ActionCancel:
		return StatusCanceled, true
	case ActionSuspend, ActionPaymentFailed:
		return StatusPastDue, true
	}
	return "", false
}

// WebhookEvent is a verified, normalized processor notification.
type WebhookEvent struct {
	ID             string
	Type           string // processor event name
	Platform       Platform
	SubscriptionID string
	Action         Action
}

var stripeEventActions = map[string]Action{
	"customer.subscription.created": ActionActivate,
	"customer.subscription.resumed": ActionActivate,
	"customer.subscription.updated": ActionRefresh,
	"customer.subscription.paused":  ActionRefresh,
	"customer.subscription.deleted": ActionCancel,
	"invoice.payment_succeeded":     ActionPaymentSucceeded,
	"invoice.paid":                  ActionPaymentSucceeded,
	"invoice.payment_failed":        ActionPaymentFailed,
}

var paypalEventActions = map[string]Action{
	"BILLING.SUBSCRIPTION.CREATED":        ActionActivate,
	"BILLING.SUBSCRIPTION.ACTIVATED":      ActionActivate,
	"BILLING.SUBSCRIPTION.RE-ACTIVATED":   ActionActivate,
	"BILLING.SUBSCRIPTION.UPDATED":        ActionRefresh,
	"BILLING.SUBSCRIPTION.CANCELLED":      ActionCancel,
	"BILLING.SUBSCRIPTION.EXPIRED":        ActionCancel,
	"BILLING.SUBSCRIPTION.SUSPENDED":      ActionSuspend,
	"PAYMENT.SALE.COMPLETED":              ActionPaymentSucceeded,
	"PAYMENT.SALE.DENIED":                 ActionPaymentFailed,
	"PAYMENT.SALE.REFUNDED":               ActionPaymentFailed,
	"PAYMENT.SALE.REVERSED":               ActionPaymentFailed,
	"BILLING.SUBSCRIPTION.PAYMENT.FAILED": ActionPaymentFailed,
}

// StripeEventAction maps a card processor event type. Unhandled types are ignored.
func StripeEventAction(eventType string) Action {
	if a, ok := stripeEventActions[eventType]; ok {
		return a
	}
	return ActionIgnore
}

// PayPalEventAction maps a wallet processor event type. Unhandled types are ignored.
func PayPalEventAction(eventType string) Action {
	if a, ok := paypalEventActions[eventType]; ok {
		return a
	}
	return ActionIgnore
}
