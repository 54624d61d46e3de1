package email

// Config holds the mail settings. Without Postmark tokens the service falls
// back to writing messages to DevDir.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"support@omnilead.pro"`
	SenderName           string `env:"SENDER_NAME" envDefault:"Omni Lead Pro Support"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@omnilead.pro"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:"tmp/emails"`
}

// Enabled reports whether real delivery is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}
