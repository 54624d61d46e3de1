package reconcile

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/omnibill/pkg/auth"
)

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithAsyncNotify sends notifications in the background, each bounded by
// timeout. Use Engine.Wait to drain them on shutdown.
func WithAsyncNotify(timeout time.Duration) Option {
	return func(e *Engine) {
		e.async = true
		if timeout > 0 {
			e.notifyTimeout = timeout
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithHasher(h *auth.Hasher) Option {
	return func(e *Engine) {
		if h != nil {
			e.hasher = h
		}
	}
}

// WithGenerators replaces the password and license key generators.
func WithGenerators(password, licenseKey func() (string, error)) Option {
	return func(e *Engine) {
		if password != nil {
			e.newPassword = password
		}
		if licenseKey != nil {
			e.newLicenseKey = licenseKey
		}
	}
}
