package entitlement

import "errors"

var (
	ErrNotFound      = errors.New("entitlement record not found")
	ErrAlreadyExists = errors.New("entitlement record already exists")
	ErrInvalidKey    = errors.New("invalid entitlement key")
	ErrStore         = errors.New("entitlement store operation failed")
)
