package reconcile

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/omnibill/pkg/email"
	"github.com/dmitrymomot/omnibill/pkg/email/templates"
)

// Kind selects the message a customer receives.
type Kind string

const (
	KindWelcome  Kind = "welcome"
	KindThankYou Kind = "thank_you"
)

const (
	WelcomeSubject  = "Welcome to Omni Lead Pro - Your Login Credentials"
	ThankYouSubject = "Thank You for Your Purchase - Omni Lead Pro"
)

// Notification is a message for a customer. Password is set only for
// KindWelcome.
type Notification struct {
	Kind        Kind
	To          string
	Name        string
	Password    string
	ProductName string
	PlanName    string
}

// Notifier delivers customer notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// EmailNotifier renders notifications as HTML email.
type EmailNotifier struct {
	sender       email.EmailSender
	dashboardURL string
	supportEmail string
}

// NewEmailNotifier creates a notifier that sends through sender.
func NewEmailNotifier(sender email.EmailSender, dashboardURL, supportEmail string) *EmailNotifier {
	return &EmailNotifier{sender: sender, dashboardURL: dashboardURL, supportEmail: supportEmail}
}

func (n *EmailNotifier) Notify(ctx context.Context, msg Notification) error {
	data := emailData{
		Name:         msg.Name,
		Email:        msg.To,
		Password:     msg.Password,
		ProductName:  msg.ProductName,
		PlanName:     msg.PlanName,
		DashboardURL: n.dashboardURL,
		SupportEmail: n.supportEmail,
	}

	var subject string
	switch msg.Kind {
	case KindWelcome:
		subject = WelcomeSubject
	case KindThankYou:
		subject = ThankYouSubject
	default:
		return fmt.Errorf("unknown notification kind %q", msg.Kind)
	}

	body, err := templates.HTML(ctx, emailComponent(msg.Kind, data))
	if err != nil {
		return fmt.Errorf("render %s email: %w", msg.Kind, err)
	}

	return n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   msg.To,
		Subject:  subject,
		BodyHTML: body,
		Tag:      string(msg.Kind),
	})
}
