// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the account service over HTTP/JSON.
//
// Auth routes are POSTs under /api/v1/auth/; the profile lives at
// PUT /api/v1/users/{id}. Every route answers with a {"status", "message"}
// envelope and failures add a stable "code".
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/ratelimit"
)

// Default boundary settings.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxBodyBytes   = 16 << 10
)

// AccountService is the account.Service surface the API calls.
type AccountService interface {
	CheckUsername(ctx context.Context, username string) (bool, error)
	CheckEmail(ctx context.Context, email string) (bool, error)
	Signup(ctx context.Context, in account.SignupInput) (*account.User, string, error)
	ResendVerification(ctx context.Context, email string) (string, error)
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, identifier, password string) (*account.Session, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangeEmail(ctx context.Context, userID ulid.ULID, newEmail string) (string, error)
	ConfirmEmailChange(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, userID ulid.ULID, newPassword string) error
	UpdateProfile(ctx context.Context, userID ulid.ULID, firstName, lastName string) (*account.User, error)
	Authenticate(ctx context.Context, credential string) (*account.User, error)
}

var _ AccountService = (*account.Service)(nil)

// Recorder receives request metrics. *observability.Metrics implements it.
type Recorder interface {
	RecordRequest(route string, status int, elapsed time.Duration)
	RecordRateLimited(route string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, int, time.Duration) {}
func (nopRecorder) RecordRateLimited(string)                 {}

// Config configures the API handler.
type Config struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	// ExposeTokens includes plaintext tokens in responses. Test environments only.
	ExposeTokens bool
}

// Options carries the handler's optional collaborators.
type Options struct {
	Limiter ratelimit.Limiter
	Metrics Recorder
	Logger  *slog.Logger
}

type handler struct {
	svc     AccountService
	cfg     Config
	limiter ratelimit.Limiter
	metrics Recorder
	logger  *slog.Logger
}

// NewHandler builds the API's http.Handler.
func NewHandler(svc AccountService, cfg Config, opts Options) (http.Handler, error) {
	if svc == nil {
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").Errorf("account service is required")
	}
	if cfg.RequestTimeout < 0 || cfg.MaxBodyBytes < 0 {
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").Errorf("request timeout and body limit must not be negative")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &handler{
		svc:     svc,
		cfg:     cfg,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if h.limiter == nil {
		h.limiter = ratelimit.Nop{}
	}
	if h.metrics == nil {
		h.metrics = nopRecorder{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/check-username", h.checkUsername)
	mux.HandleFunc("POST /api/v1/auth/check-email", h.checkEmail)
	mux.HandleFunc("POST /api/v1/auth/signup", h.signup)
	mux.HandleFunc("POST /api/v1/auth/login", h.login)
	mux.HandleFunc("POST /api/v1/auth/verify", h.verify)
	mux.HandleFunc("POST /api/v1/auth/resend-verification", h.resendVerification)
	mux.HandleFunc("POST /api/v1/auth/forgot-password", h.forgotPassword)
	mux.HandleFunc("POST /api/v1/auth/reset-password", h.resetPassword)
	mux.HandleFunc("POST /api/v1/auth/change-email", h.requireSession(h.changeEmail))
	mux.HandleFunc("POST /api/v1/auth/confirm-email-change", h.confirmEmailChange)
	mux.HandleFunc("POST /api/v1/auth/change-password", h.requireSession(h.changePassword))
	mux.HandleFunc("PUT /api/v1/users/{id}", h.requireSession(h.updateProfile))
	mux.HandleFunc("/", h.notFound)

	return h.instrument(mux), nil
}
