// Package templates renders templ components into email bodies.
package templates

import (
	"bytes"
	"context"
	"errors"

	"github.com/a-h/templ"
)

// ErrEmptyBody is returned when a component renders nothing.
var ErrEmptyBody = errors.New("templates: component rendered an empty body")

// HTML renders c into a complete HTML email body.
func HTML(ctx context.Context, c templ.Component) (string, error) {
	var buf bytes.Buffer
	buf.Grow(4 << 10)
	if err := c.Render(ctx, &buf); err != nil {
		return "", err
	}
	if buf.Len() == 0 {
		return "", ErrEmptyBody
	}
	return buf.String(), nil
}
