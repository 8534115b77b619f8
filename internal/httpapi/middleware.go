// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
)

type userKey struct{}

// userFromContext returns the user attached by requireSession.
func userFromContext(ctx context.Context) (*account.User, bool) {
	user, ok := ctx.Value(userKey{}).(*account.User)
	return user, ok && user != nil
}

// bearerToken extracts the credential from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireSession authenticates the bearer credential and attaches the
// current user to the request context.
func (h *handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerToken(r)
		if !ok {
			writeError(w, r, h.logger, oops.Code(account.CodeSessionInvalid).
				Wrapf(account.ErrUnauthenticated, "missing bearer credential"))
			return
		}
		user, err := h.svc.Authenticate(r.Context(), credential)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// instrument bounds each request with the configured deadline and records
// its outcome.
func (h *handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
		defer cancel()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		h.metrics.RecordRequest(route, rec.status, time.Since(start))
		h.logger.DebugContext(ctx, "request handled",
			"route", route,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// throttle rejects the request when the limiter refuses key for scope.
func (h *handler) throttle(r *http.Request, scope, key string) error {
	if err := h.limiter.Allow(r.Context(), scope, key); err != nil {
		h.metrics.RecordRateLimited(r.Pattern)
		return err
	}
	return nil
}
