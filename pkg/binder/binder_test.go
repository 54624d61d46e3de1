package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/omnibill/pkg/binder"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func TestJSON(t *testing.T) {
	t.Parallel()
	bind := binder.JSON()

	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     error
		want        loginRequest
	}{
		{
			name:        "valid",
			contentType: "application/json; charset=utf-8",
			body:        `{"email":"a@example.com","password":"secret","remember":true}`,
			want:        loginRequest{Email: "a@example.com", Password: "secret"},
		},
		{name: "missing content type", body: `{}`, wantErr: binder.ErrMissingContentType},
		{name: "form body", contentType: "application/x-www-form-urlencoded", body: "email=a", wantErr: binder.ErrUnsupportedMediaType},
		{name: "empty body", contentType: "application/json", wantErr: binder.ErrFailedToParseJSON},
		{name: "malformed", contentType: "application/json", body: `{"email":`, wantErr: binder.ErrFailedToParseJSON},
		{name: "wrong type", contentType: "application/json", body: `{"email":5}`, wantErr: binder.ErrFailedToParseJSON},
		{
			name:        "too large",
			contentType: "application/json",
			body:        `{"email":"` + strings.Repeat("a", binder.DefaultMaxJSONSize) + `"}`,
			wantErr:     binder.ErrFailedToParseJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			var got loginRequest
			err := bind(r, &got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery(t *testing.T) {
	t.Parallel()

	type request struct {
		SessionID string  `query:"session_id"`
		Plan      string  // matched as "plan"
		Limit     int     `query:"limit"`
		Sandbox   *bool   `query:"sandbox"`
		Skipped   string  `query:"-"`
		Note      *string `query:"note"`
	}

	t.Run("binds tagged and untagged fields", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/success?session_id=cs_1&plan=prod1_basic&limit=5&sandbox=true&Skipped=x", nil)

		var got request
		require.NoError(t, binder.Query()(r, &got))
		assert.Equal(t, "cs_1", got.SessionID)
		assert.Equal(t, "prod1_basic", got.Plan)
		assert.Equal(t, 5, got.Limit)
		require.NotNil(t, got.Sandbox)
		assert.True(t, *got.Sandbox)
		assert.Empty(t, got.Skipped)
		assert.Nil(t, got.Note)
	})

	t.Run("invalid number", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/?limit=many", nil)
		var got request
		assert.ErrorIs(t, binder.Query()(r, &got), binder.ErrFailedToParseQuery)
	})

	t.Run("non pointer target", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.ErrorIs(t, binder.Query()(r, request{}), binder.ErrFailedToParseQuery)
	})
}
