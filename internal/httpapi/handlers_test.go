// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/account/accounttest"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/internal/ratelimit"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	env     *accounttest.Env
}

type response struct {
	code   int
	header http.Header
	body   map[string]any
}

func (r response) str(key string) string {
	s, _ := r.body[key].(string)
	return s
}

func newAPI(t *testing.T, cfg httpapi.Config, opts httpapi.Options) *apiClient {
	t.Helper()
	env := accounttest.NewEnv(t)
	h, err := httpapi.NewHandler(env.Service, cfg, opts)
	require.NoError(t, err)
	return &apiClient{t: t, handler: h, env: env}
}

func (c *apiClient) post(path string, body any, bearer string) response {
	c.t.Helper()
	return c.do(http.MethodPost, "/api/v1/auth/"+path, body, bearer)
}

func (c *apiClient) do(method, target string, body any, bearer string) response {
	c.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	resp := response{code: rec.Code, header: rec.Header()}
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &resp.body), "body: %s", rec.Body.String())
	assert.Equal(c.t, float64(rec.Code), resp.body["status"], "envelope status mirrors the HTTP status")
	return resp
}

func signupBody(email string) map[string]any {
	return map[string]any{
		"email":            email,
		"password":         "p1",
		"confirm_password": "p1",
		"first_name":       "Ada",
		"last_name":        "Lovelace",
	}
}

func TestAPI_SignupVerifyLogin(t *testing.T) {
	api := newAPI(t, httpapi.Config{ExposeTokens: true}, httpapi.Options{})

	resp := api.post("check-email", map[string]any{"email": "a@x.com"}, "")
	assert.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, true, resp.body["is_available"])

	resp = api.post("signup", signupBody("a@x.com"), "")
	require.Equal(t, http.StatusCreated, resp.code)
	assert.Equal(t, "Signup Successful", resp.str("message"))
	token := resp.str("token")
	assert.Regexp(t, `^\d{6}$`, token)
	user, _ := resp.body["user"].(map[string]any)
	assert.Equal(t, "unverified", user["status"])

	resp = api.post("check-email", map[string]any{"email": "A@X.COM"}, "")
	assert.Equal(t, false, resp.body["is_available"])
	assert.Equal(t, "Email is not available for use", resp.str("message"))

	resp = api.post("verify", map[string]any{"token": "000000x"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, httpapi.CodeInvalidToken, resp.str("code"))

	resp = api.post("verify", map[string]any{"token": token}, "")
	assert.Equal(t, http.StatusOK, resp.code)

	resp = api.post("verify", map[string]any{"token": token}, "")
	assert.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, "Invalid or expired token", resp.str("message"))

	resp = api.post("login", map[string]any{"identifier": "a@x.com", "password": "p1"}, "")
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, "Bearer", resp.str("token_type"))
	assert.NotEmpty(t, resp.str("access_token"))

	resp = api.post("login", map[string]any{"identifier": "a@x.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.Equal(t, httpapi.CodeInvalidCredentials, resp.str("code"))
	assert.Empty(t, resp.body["access_token"])
}

func TestAPI_TokensHiddenByDefault(t *testing.T) {
	api := newAPI(t, httpapi.Config{}, httpapi.Options{})

	resp := api.post("signup", signupBody("a@x.com"), "")
	require.Equal(t, http.StatusCreated, resp.code)
	assert.NotContains(t, resp.body, "token")

	resp = api.post("forgot-password", map[string]any{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusOK, resp.code)
	assert.NotContains(t, resp.body, "token")

	sent, ok := api.env.Notifier.Last(accounttest.KindPasswordReset)
	require.True(t, ok)
	assert.NotEmpty(t, sent.Token)
}

func TestAPI_SignupValidation(t *testing.T) {
	api := newAPI(t, httpapi.Config{MaxBodyBytes: 512}, httpapi.Options{})

	missing := signupBody("a@x.com")
	delete(missing, "first_name")

	unknown := signupBody("a@x.com")
	unknown["role"] = "admin"

	mismatch := signupBody("a@x.com")
	mismatch["confirm_password"] = "p2"

	badEmail := signupBody("not-an-email")

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing field", missing, "first_name"},
		{"unknown field", unknown, "role"},
		{"password mismatch", mismatch, "Passwords do not match"},
		{"invalid email", badEmail, "Email is not a valid address"},
		{"malformed json", `{"email":`, "Request body must be a JSON object"},
		{"wrong type", `{"email": 42}`, "email"},
		{"body too large", map[string]any{"email": strings.Repeat("a", 1024)}, "at most 512 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.post("signup", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, resp.code)
			assert.Equal(t, httpapi.CodeValidation, resp.str("code"))
			assert.Contains(t, resp.str("message"), tt.message)
		})
	}

	assert.Zero(t, api.env.Store.TokenCount())
}

func TestAPI_DuplicateSignup(t *testing.T) {
	api := newAPI(t, httpapi.Config{}, httpapi.Options{})

	require.Equal(t, http.StatusCreated, api.post("signup", signupBody("a@x.com"), "").code)

	resp := api.post("signup", signupBody("A@x.com"), "")
	assert.Equal(t, http.StatusConflict, resp.code)
	assert.Equal(t, httpapi.CodeDuplicateIdentity, resp.str("code"))
}

func TestAPI_ResendWhenVerified(t *testing.T) {
	api := newAPI(t, httpapi.Config{ExposeTokens: true}, httpapi.Options{})

	token := api.post("signup", signupBody("a@x.com"), "").str("token")
	require.Equal(t, http.StatusOK, api.post("verify", map[string]any{"token": token}, "").code)

	resp := api.post("resend-verification", map[string]any{"email": "a@x.com"}, "")
	assert.Equal(t, http.StatusConflict, resp.code)
	assert.Equal(t, httpapi.CodeAlreadyVerified, resp.str("code"))

	resp = api.post("resend-verification", map[string]any{"email": "nobody@x.com"}, "")
	assert.Equal(t, http.StatusNotFound, resp.code)
}

func TestAPI_ForgotAndResetPassword(t *testing.T) {
	api := newAPI(t, httpapi.Config{ExposeTokens: true}, httpapi.Options{})
	require.Equal(t, http.StatusCreated, api.post("signup", signupBody("a@x.com"), "").code)

	t1 := api.post("forgot-password", map[string]any{"email": "a@x.com"}, "").str("token")
	t2 := api.post("forgot-password", map[string]any{"email": "a@x.com"}, "").str("token")
	require.NotEqual(t, t1, t2)

	reset := func(token string) response {
		return api.post("reset-password", map[string]any{
			"token": token, "password": "p2", "confirm_password": "p2",
		}, "")
	}
	assert.Equal(t, http.StatusBadRequest, reset(t1).code)
	assert.Equal(t, http.StatusOK, reset(t2).code)

	assert.Equal(t, http.StatusUnauthorized, api.post("login", map[string]any{"identifier": "a@x.com", "password": "p1"}, "").code)
	assert.Equal(t, http.StatusOK, api.post("login", map[string]any{"identifier": "a@x.com", "password": "p2"}, "").code)
}

func TestAPI_ChangeEmail(t *testing.T) {
	api := newAPI(t, httpapi.Config{ExposeTokens: true}, httpapi.Options{})
	require.Equal(t, http.StatusCreated, api.post("signup", signupBody("old@x.com"), "").code)
	session := api.post("login", map[string]any{"identifier": "old@x.com", "password": "p1"}, "").str("access_token")
	require.NotEmpty(t, session)

	resp := api.post("change-email", map[string]any{"email": "new@x.com"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.Equal(t, httpapi.CodeUnauthenticated, resp.str("code"))

	resp = api.post("change-email", map[string]any{"email": "new@x.com"}, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.code)

	resp = api.post("change-email", map[string]any{"email": "new@x.com"}, session)
	require.Equal(t, http.StatusOK, resp.code)
	token := resp.str("token")

	sent, ok := api.env.Notifier.Last(accounttest.KindEmailChange)
	require.True(t, ok)
	assert.Equal(t, "old@x.com", sent.To)

	require.Equal(t, http.StatusOK, api.post("confirm-email-change", map[string]any{"token": token}, "").code)

	resp = api.post("change-password", map[string]any{"password": "p2", "confirm_password": "p2"}, session)
	assert.Equal(t, http.StatusUnauthorized, resp.code, "credential issued before the email change is stale")

	assert.Equal(t, http.StatusUnauthorized, api.post("login", map[string]any{"identifier": "old@x.com", "password": "p1"}, "").code)
	assert.Equal(t, http.StatusOK, api.post("login", map[string]any{"identifier": "new@x.com", "password": "p1"}, "").code)
}

func TestAPI_ChangePassword(t *testing.T) {
	api := newAPI(t, httpapi.Config{}, httpapi.Options{})
	require.Equal(t, http.StatusCreated, api.post("signup", signupBody("a@x.com"), "").code)
	session := api.post("login", map[string]any{"identifier": "a@x.com", "password": "p1"}, "").str("access_token")

	resp := api.post("change-password", map[string]any{"password": "p2", "confirm_password": "p3"}, session)
	assert.Equal(t, http.StatusBadRequest, resp.code)

	resp = api.post("change-password", map[string]any{"password": "p2", "confirm_password": "p2"}, session)
	require.Equal(t, http.StatusOK, resp.code)

	_, ok := api.env.Notifier.Last(accounttest.KindPasswordChanged)
	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, api.post("login", map[string]any{"identifier": "a@x.com", "password": "p2"}, "").code)
}

func TestAPI_UpdateProfile(t *testing.T) {
	api := newAPI(t, httpapi.Config{}, httpapi.Options{})
	resp := api.post("signup", signupBody("a@x.com"), "")
	require.Equal(t, http.StatusCreated, resp.code)
	user, _ := resp.body["user"].(map[string]any)
	id, _ := user["id"].(string)
	session := api.post("login", map[string]any{"identifier": "a@x.com", "password": "p1"}, "").str("access_token")
	require.NotEmpty(t, session)
	profile := map[string]any{"first_name": " Augusta ", "last_name": "King"}

	t.Run("updates own profile", func(t *testing.T) {
		resp := api.do(http.MethodPut, "/api/v1/users/"+id, profile, session)
		require.Equal(t, http.StatusOK, resp.code)
		updated, _ := resp.body["user"].(map[string]any)
		assert.Equal(t, "Augusta", updated["first_name"])
		assert.Equal(t, "King", updated["last_name"])
		assert.Equal(t, "a@x.com", updated["email"])
	})

	t.Run("rejects another user's id", func(t *testing.T) {
		other := api.post("signup", signupBody("b@x.com"), "")
		require.Equal(t, http.StatusCreated, other.code)
		otherUser, _ := other.body["user"].(map[string]any)
		otherID, _ := otherUser["id"].(string)

		resp := api.do(http.MethodPut, "/api/v1/users/"+otherID, profile, session)
		assert.Equal(t, http.StatusUnauthorized, resp.code)
		assert.Equal(t, httpapi.CodeUnauthenticated, resp.str("code"))

		stored, ok := api.env.Store.User(ulid.MustParse(otherID))
		require.True(t, ok)
		assert.Equal(t, "Ada", stored.FirstName)
	})

	t.Run("requires a session", func(t *testing.T) {
		resp := api.do(http.MethodPut, "/api/v1/users/"+id, profile, "")
		assert.Equal(t, http.StatusUnauthorized, resp.code)
	})

	t.Run("requires both names", func(t *testing.T) {
		resp := api.do(http.MethodPut, "/api/v1/users/"+id, map[string]any{"first_name": "Ada"}, session)
		assert.Equal(t, http.StatusBadRequest, resp.code)
		assert.Equal(t, httpapi.CodeValidation, resp.str("code"))
	})

	t.Run("rejects blank names", func(t *testing.T) {
		resp := api.do(http.MethodPut, "/api/v1/users/"+id, map[string]any{"first_name": "  ", "last_name": "King"}, session)
		assert.Equal(t, http.StatusBadRequest, resp.code)
	})
}

func TestAPI_Lockout(t *testing.T) {
	api := newAPI(t, httpapi.Config{}, httpapi.Options{})
	require.Equal(t, http.StatusCreated, api.post("signup", signupBody("a@x.com"), "").code)

	for range account.LockoutThreshold {
		api.post("login", map[string]any{"identifier": "a@x.com", "password": "wrong"}, "")
	}

	resp := api.post("login", map[string]any{"identifier": "a@x.com", "password": "p1"}, "")
	assert.Equal(t, http.StatusLocked, resp.code)
	assert.Equal(t, httpapi.CodeAccountLocked, resp.str("code"))

	api.env.Clock.Advance(account.LockoutDuration + time.Second)
	assert.Equal(t, http.StatusOK, api.post("login", map[string]any{"identifier": "a@x.com", "password": "p1"}, "").code)
}

func TestAPI_RateLimitedIssuance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewRedisLimiter(client, ratelimit.Config{Limit: 2, Window: time.Minute}, nil)
	require.NoError(t, err)

	metrics := &recordingMetrics{}
	api := newAPI(t, httpapi.Config{}, httpapi.Options{Limiter: limiter, Metrics: metrics})
	require.Equal(t, http.StatusCreated, api.post("signup", signupBody("a@x.com"), "").code)

	for range 2 {
		require.Equal(t, http.StatusOK, api.post("forgot-password", map[string]any{"email": "a@x.com"}, "").code)
	}
	resp := api.post("forgot-password", map[string]any{"email": "A@x.com"}, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.code)
	assert.Equal(t, httpapi.CodeRateLimited, resp.str("code"))
	assert.Equal(t, "60", resp.header.Get("Retry-After"))
	assert.Equal(t, 1, metrics.limited["POST /api/v1/auth/forgot-password"])

	assert.Equal(t, http.StatusOK, api.post("resend-verification", map[string]any{"email": "a@x.com"}, "").code,
		"scopes are limited independently")
}

func TestAPI_RateLimitedRedemption(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewRedisLimiter(client, ratelimit.Config{Limit: 2, Window: time.Minute}, nil)
	require.NoError(t, err)

	metrics := &recordingMetrics{}
	api := newAPI(t, httpapi.Config{ExposeTokens: true}, httpapi.Options{Limiter: limiter, Metrics: metrics})
	token := api.post("signup", signupBody("a@x.com"), "").str("token")
	require.NotEmpty(t, token)

	for _, guess := range []string{"bad-1", "bad-2"} {
		assert.Equal(t, http.StatusBadRequest, api.post("verify", map[string]any{"token": guess}, "").code)
	}
	resp := api.post("verify", map[string]any{"token": token}, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.code, "the client is limited even when it holds a live code")
	assert.Equal(t, 1, metrics.limited["POST /api/v1/auth/verify"])

	for range 2 {
		assert.Equal(t, http.StatusBadRequest, api.post("confirm-email-change", map[string]any{"token": "unknown"}, "").code)
	}
	resp = api.post("confirm-email-change", map[string]any{"token": "unknown"}, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.code)
	assert.Equal(t, httpapi.CodeRateLimited, resp.str("code"))
}

func TestAPI_RecordsMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	api := newAPI(t, httpapi.Config{}, httpapi.Options{Metrics: metrics})

	api.post("check-username", map[string]any{"username": "ada"}, "")
	api.post("check-username", map[string]any{}, "")

	assert.Equal(t, 1, metrics.requests["POST /api/v1/auth/check-username 200"])
	assert.Equal(t, 1, metrics.requests["POST /api/v1/auth/check-username 400"])
}

func TestAPI_UnknownRoute(t *testing.T) {
	api := newAPI(t, httpapi.Config{}, httpapi.Options{})

	resp := api.post("delete-account", map[string]any{}, "")
	assert.Equal(t, http.StatusNotFound, resp.code)
	assert.Equal(t, httpapi.CodeNotFound, resp.str("code"))
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := httpapi.NewHandler(nil, httpapi.Config{}, httpapi.Options{})
	assert.Error(t, err)

	env := accounttest.NewEnv(t)
	_, err = httpapi.NewHandler(env.Service, httpapi.Config{RequestTimeout: -time.Second}, httpapi.Options{})
	assert.Error(t, err)
}

type recordingMetrics struct {
	mu       sync.Mutex
	requests map[string]int
	limited  map[string]int
}

func (m *recordingMetrics) RecordRequest(route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requests == nil {
		m.requests = make(map[string]int)
	}
	m.requests[fmt.Sprintf("%s %d", route, status)]++
}

func (m *recordingMetrics) RecordRateLimited(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limited == nil {
		m.limited = make(map[string]int)
	}
	m.limited[route]++
}
