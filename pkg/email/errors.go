package email

import "errors"

var (
	ErrInvalidConfig = errors.New("email: invalid sender configuration")
	// ErrInvalidMessage means the message was rejected before any delivery attempt.
	ErrInvalidMessage = errors.New("email: invalid message")
	// ErrDeliveryFailed wraps transport and provider errors.
	ErrDeliveryFailed = errors.New("email: delivery failed")
)
