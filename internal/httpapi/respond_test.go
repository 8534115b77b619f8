// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/ratelimit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", oops.Code(account.CodeValidation).Wrapf(account.ErrValidation, "email is required"), http.StatusBadRequest, CodeValidation},
		{"token not found", oops.Code(account.CodeTokenNotFound).Wrap(account.ErrTokenNotFound), http.StatusBadRequest, CodeInvalidToken},
		{"token expired", oops.Code(account.CodeTokenExpired).Wrap(account.ErrTokenExpired), http.StatusBadRequest, CodeInvalidToken},
		{"duplicate", account.ErrDuplicateIdentity, http.StatusConflict, CodeDuplicateIdentity},
		{"already verified", account.ErrAlreadyVerified, http.StatusConflict, CodeAlreadyVerified},
		{"not found", account.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"credentials", account.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials},
		{"unauthenticated", account.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthenticated},
		{"locked", account.ErrAccountLocked, http.StatusLocked, CodeAccountLocked},
		{"rate limited", &ratelimit.LimitedError{Scope: "s", RetryAfter: time.Second}, http.StatusTooManyRequests, CodeRateLimited},
		{"conflict", account.ErrConflict, http.StatusConflict, CodeConflict},
		{"deadline", oops.Wrap(context.DeadlineExceeded), http.StatusServiceUnavailable, CodeTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
		{"hash format", account.ErrHashFormat, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := classify(tt.err)
			assert.Equal(t, tt.status, kind.status)
			assert.Equal(t, tt.code, kind.code)
			assert.NotEmpty(t, kind.message)
		})
	}
}

func TestValidationMessage(t *testing.T) {
	err := oops.Code(account.CodeValidation).Wrapf(account.ErrValidation, "first name is required")
	assert.Equal(t, "First name is required", validationMessage(err))
	assert.Equal(t, "Invalid request", validationMessage(account.ErrValidation))
}

func TestWriteError_RetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	err := oops.Code("RATE_LIMITED").Wrap(&ratelimit.LimitedError{Scope: "forgot-password", RetryAfter: 1500 * time.Millisecond})

	writeError(rec, req, slog.New(slog.DiscardHandler), err)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", tt.header)
		got, ok := bearerToken(req)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestRequestSchema_RequiredFields(t *testing.T) {
	data, err := requestSchema(&signupRequest{})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"additionalProperties":false`)
	assert.Contains(t, string(data), `"confirm_password"`)
	assert.NotContains(t, string(data), `"$ref"`)
}

func TestCompiledSchema_Cached(t *testing.T) {
	first, err := compiledSchema(&loginRequest{})
	require.NoError(t, err)
	second, err := compiledSchema(&loginRequest{})
	require.NoError(t, err)
	assert.Same(t, first, second)
}
