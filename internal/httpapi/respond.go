// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/ratelimit"
	"github.com/holomush/accounts/pkg/errutil"
)

// Public error codes carried in the envelope's "code" field.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeDuplicateIdentity  = "DUPLICATE_IDENTITY"
	CodeAlreadyVerified    = "ALREADY_VERIFIED"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeConflict           = "CONFLICT"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// envelope is the common shape of every response body.
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func success(status int, message string) envelope {
	return envelope{Status: status, Message: message}
}

// errorKind is the boundary's view of a failure.
type errorKind struct {
	status  int
	code    string
	message string
}

// kinds is checked in order; the first sentinel matched wins.
var kinds = []struct {
	target error
	kind   errorKind
}{
	{account.ErrValidation, errorKind{http.StatusBadRequest, CodeValidation, ""}},
	{account.ErrInvalidToken, errorKind{http.StatusBadRequest, CodeInvalidToken, "Invalid or expired token"}},
	{account.ErrDuplicateIdentity, errorKind{http.StatusConflict, CodeDuplicateIdentity, "Email or username is already taken"}},
	{account.ErrAlreadyVerified, errorKind{http.StatusConflict, CodeAlreadyVerified, "Account has already been verified"}},
	{account.ErrNotFound, errorKind{http.StatusNotFound, CodeNotFound, "User does not exist"}},
	{account.ErrInvalidCredentials, errorKind{http.StatusUnauthorized, CodeInvalidCredentials, "Invalid credentials"}},
	{account.ErrUnauthenticated, errorKind{http.StatusUnauthorized, CodeUnauthenticated, "Authentication required"}},
	{account.ErrAccountLocked, errorKind{http.StatusLocked, CodeAccountLocked, "Account is temporarily locked, try again later"}},
	{account.ErrRateLimited, errorKind{http.StatusTooManyRequests, CodeRateLimited, "Too many requests, try again later"}},
	{account.ErrConflict, errorKind{http.StatusConflict, CodeConflict, "The request conflicted with a concurrent update, please retry"}},
	{context.DeadlineExceeded, errorKind{http.StatusServiceUnavailable, CodeTimeout, "The request timed out, please retry"}},
}

var internalKind = errorKind{http.StatusInternalServerError, CodeInternal, "Internal server error"}

// classify maps err to its boundary kind.
func classify(err error) errorKind {
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			kind := k.kind
			if kind.message == "" {
				kind.message = validationMessage(err)
			}
			return kind
		}
	}
	return internalKind
}

// validationMessage returns the human-readable part of a validation error.
func validationMessage(err error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+account.ErrValidation.Error())
	if msg == "" || msg == account.ErrValidation.Error() {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// writeError writes the envelope for err. Unexpected errors are logged with
// their full context and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := classify(err)

	switch {
	case kind.status >= http.StatusInternalServerError:
		errutil.LogError(r.Context(), logger, "request failed", err, "route", r.Pattern)
	case kind.code == CodeInvalidToken:
		// The client sees one message; the log keeps whether it was missing or expired.
		logger.InfoContext(r.Context(), "token redemption rejected", "route", r.Pattern, "reason", internalCode(err))
	}

	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
	}

	writeJSON(w, r, logger, kind.status, envelope{Status: kind.status, Message: kind.message, Code: kind.code})
}

func internalCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnContext(r.Context(), "failed to write response", "route", r.Pattern, "error", err)
	}
}
