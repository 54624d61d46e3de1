package logger

import (
	"log/slog"
	"time"
)

// Error logs err under "error". A nil error yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

func Platform(p string) slog.Attr {
	return slog.String("payment_platform", p)
}

// Email logs an address under "email".
func Email(email string) slog.Attr {
	return slog.String("email", email)
}

func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

// Stage is the reconciliation step that failed.
func Stage(stage string) slog.Attr {
	return slog.String("stage", stage)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
