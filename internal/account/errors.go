// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"errors"
	"fmt"
)

// Error codes attached to oops errors returned by this package.
const (
	CodeValidation         = "ACCOUNT_VALIDATION"
	CodeDuplicateIdentity  = "ACCOUNT_DUPLICATE_IDENTITY"
	CodeNotFound           = "ACCOUNT_NOT_FOUND"
	CodeAlreadyVerified    = "ACCOUNT_ALREADY_VERIFIED"
	CodeInvalidCredentials = "ACCOUNT_INVALID_CREDENTIALS"
	CodeLocked             = "ACCOUNT_LOCKED"
	CodeTokenNotFound      = "TOKEN_NOT_FOUND"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeSessionStale       = "SESSION_STALE"
	CodeHashFormat         = "HASH_FORMAT_INVALID"
	CodeUserConflict       = "USER_CONFLICT"
)

// Repository signals.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrTokenCollision is returned by a TokenRepository when the token digest
	// is already held by another live token of the same purpose.
	ErrTokenCollision = errors.New("token digest collision")
)

// Domain error kinds. Callers branch on these with errors.Is.
var (
	ErrValidation         = errors.New("invalid input")
	ErrDuplicateIdentity  = errors.New("email or username already in use")
	ErrAlreadyVerified    = errors.New("account has already been verified")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrHashFormat         = errors.New("malformed password hash")
	ErrRateLimited        = errors.New("too many requests")

	// ErrInvalidToken is the user-facing kind for any failed redemption.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTokenNotFound means no live token matched the presented value.
	ErrTokenNotFound = fmt.Errorf("%w: not found", ErrInvalidToken)
	// ErrTokenExpired means the token matched but is past its expiry.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
)
