package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/omnibill/pkg/binder"
	"github.com/dmitrymomot/omnibill/pkg/logger"
	"github.com/dmitrymomot/omnibill/pkg/requestid"
)

// ErrorInfo contains classified error information.
type ErrorInfo struct {
	StatusCode int
	Message    string
	LogLevel   slog.Level
}

var binderErrors = []error{
	binder.ErrFailedToParseJSON,
	binder.ErrFailedToParseQuery,
	binder.ErrUnsupportedMediaType,
	binder.ErrMissingContentType,
}

func classifyError(err error) ErrorInfo {
	info := ErrorInfo{
		StatusCode: ErrInternalServerError.Code,
		Message:    ErrInternalServerError.Message,
	}

	var httpErr HTTPError
	switch {
	case errors.As(err, &httpErr):
		info.StatusCode = httpErr.Code
		info.Message = httpErr.Message
	case isBinderError(err):
		info.StatusCode = http.StatusBadRequest
		info.Message = err.Error()
	}

	info.LogLevel = slog.LevelError
	if info.StatusCode < http.StatusInternalServerError {
		info.LogLevel = slog.LevelWarn
	}
	return info
}

func isBinderError(err error) bool {
	for _, target := range binderErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorHandlerOption configures NewErrorHandler.
type ErrorHandlerOption func(*errorHandlerConfig)

type errorHandlerConfig struct {
	plainText bool
}

// WithPlainText renders errors as text/plain instead of JSON. Browser-facing
// routes such as checkout callbacks use it.
func WithPlainText() ErrorHandlerOption {
	return func(c *errorHandlerConfig) {
		c.plainText = true
	}
}

// NewErrorHandler creates the error handler shared by all routes. It logs
// the full error and renders only the client-facing message.
func NewErrorHandler(log *slog.Logger, opts ...ErrorHandlerOption) ErrorHandler[Context] {
	if log == nil {
		log = logger.Discard()
	}
	var cfg errorHandlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx Context, err error) {
		r := ctx.Request()
		info := classifyError(err)

		log.LogAttrs(r.Context(), info.LogLevel, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", info.StatusCode),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		var resp Response = JSONError(info.StatusCode, info.Message)
		if cfg.plainText {
			resp = Text(info.StatusCode, info.Message)
		}
		if renderErr := resp.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
