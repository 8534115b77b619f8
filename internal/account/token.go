// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Purpose is the category of action a token authorizes.
type Purpose string

// Token purposes.
const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailChange       Purpose = "email_change"
)

// Token alphabets and lengths.
const (
	numericAlphabet      = "0123456789"
	alphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	VerificationCodeLength = 6
	LongTokenLength        = 32
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset, PurposeEmailChange:
		return true
	}
	return false
}

// String returns the purpose name.
func (p Purpose) String() string { return string(p) }

// format returns the alphabet and length used for values of this purpose.
// Email verification uses short numeric codes meant to be typed by hand.
func (p Purpose) format() (alphabet string, length int) {
	if p == PurposeEmailVerification {
		return numericAlphabet, VerificationCodeLength
	}
	return alphanumericAlphabet, LongTokenLength
}

// Token is a persisted single-use secret. Only the digest of the value is stored.
type Token struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Purpose   Purpose
	TokenHash string
	Payload   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewToken creates a validated Token.
func NewToken(userID ulid.ULID, purpose Purpose, tokenHash, payload string, now, expiresAt time.Time) (*Token, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if !purpose.Valid() {
		return nil, oops.Code("TOKEN_INVALID_PURPOSE").With("purpose", purpose).Errorf("unknown token purpose")
	}
	if tokenHash == "" {
		return nil, oops.Code("TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}
	return &Token{
		ID:        ulid.Make(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: tokenHash,
		Payload:   payload,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsExpiredAt returns true if the token is past its expiry at t.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// GenerateTokenValue draws a token value for purpose from src.
// Characters are chosen by rejection sampling so every symbol is equally likely.
func GenerateTokenValue(src RandomSource, purpose Purpose) (string, error) {
	alphabet, length := purpose.format()
	n := len(alphabet)
	// Largest multiple of n that fits in a byte; bytes at or above it are rejected.
	limit := 256 - (256 % n)

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", oops.Code("TOKEN_GENERATE_FAILED").
				With("operation", "read random bytes").
				With("purpose", purpose).
				Wrap(err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// HashTokenValue computes the SHA-256 hex digest of a token value.
// This is what gets persisted and looked up on redemption.
func HashTokenValue(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// VerifyTokenValue checks if the plaintext value matches the stored digest.
// Uses constant-time comparison to prevent timing attacks.
func VerifyTokenValue(value, hash string) bool {
	if value == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashTokenValue(value)), []byte(hash)) == 1
}

// TokenRepository manages token persistence.
type TokenRepository interface {
	// Replace atomically deletes any token for (token.UserID, token.Purpose)
	// and stores token. Returns ErrTokenCollision if the digest is already in
	// use by another token of the same purpose.
	Replace(ctx context.Context, token *Token) error

	// Take deletes and returns the token with the given purpose and digest.
	// Returns ErrNotFound if there is none. Of several concurrent callers at
	// most one receives the token.
	Take(ctx context.Context, purpose Purpose, tokenHash string) (*Token, error)
}

// Transactor runs fn inside a single transaction. Repository calls made with
// the context passed to fn participate in that transaction. Nested calls
// join the outer transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
