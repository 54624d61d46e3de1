package binder

import "errors"

var (
	// ErrMissingContentType is returned when a body binder gets no Content-Type.
	ErrMissingContentType = errors.New("missing content type")
	// ErrUnsupportedMediaType is returned for a Content-Type the binder does not read.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFailedToParseJSON    = errors.New("failed to parse JSON request body")
	ErrFailedToParseQuery   = errors.New("failed to parse query parameters")
)
