package billing

import "time"

// StripeConfig configures the card processor adapter.
type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	BaseURL       string        `env:"APP_BASE_URL,required"` // public URL checkout redirects come back to
	APIURL        string        `env:"STRIPE_API_URL"`        // overrides the API endpoint, used against test doubles
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"20s"`
}

// PayPalConfig configures the wallet processor adapter.
// Sandbox selects the sandbox API and the sandbox plan ids of the catalog.
type PayPalConfig struct {
	ClientID     string        `env:"PAYPAL_CLIENT_ID,required"`
	ClientSecret string        `env:"PAYPAL_CLIENT_SECRET,required"`
	Sandbox      bool          `env:"PAYPAL_SANDBOX" envDefault:"true"`
	WebhookID    string        `env:"PAYPAL_WEBHOOK_ID"` // signature verification is skipped when empty
	BaseURL      string        `env:"APP_BASE_URL,required"`
	APIURL       string        `env:"PAYPAL_API_URL"`
	BrandName    string        `env:"PAYPAL_BRAND_NAME" envDefault:"Omni Lead Pro"`
	Timeout      time.Duration `env:"PAYPAL_TIMEOUT" envDefault:"20s"`
}

const (
	paypalSandboxAPI = "https://api-m.sandbox.paypal.com"
	paypalLiveAPI    = "https://api-m.paypal.com"
)

func (c PayPalConfig) apiURL() string {
	switch {
	case c.APIURL != "":
		return c.APIURL
	case c.Sandbox:
		return paypalSandboxAPI
	default:
		return paypalLiveAPI
	}
}

func (c PayPalConfig) webURL() string {
	if c.Sandbox {
		return "https://www.sandbox.paypal.com"
	}
	return "https://www.paypal.com"
}
