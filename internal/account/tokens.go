// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// maxIssueAttempts bounds retries when a freshly drawn value collides with a
// live token of the same purpose. Only short numeric codes realistically collide.
const maxIssueAttempts = 5

// Tokens issues and redeems single-use tokens.
// At most one live token exists per (user, purpose): issuing replaces the
// previous token atomically.
type Tokens struct {
	repo   TokenRepository
	tx     Transactor
	clock  Clock
	random RandomSource
}

// NewTokens creates a Tokens store.
func NewTokens(repo TokenRepository, tx Transactor, clock Clock, random RandomSource) (*Tokens, error) {
	if repo == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if clock == nil {
		clock = SystemClock
	}
	if random == nil {
		random = SystemRandom
	}
	return &Tokens{repo: repo, tx: tx, clock: clock, random: random}, nil
}

// Issue creates a token for (userID, purpose) that expires after ttl,
// superseding any earlier token of that purpose. It returns the plaintext
// value; only its digest is persisted.
func (t *Tokens) Issue(ctx context.Context, userID ulid.ULID, purpose Purpose, ttl time.Duration, payload string) (string, error) {
	if ttl <= 0 {
		return "", oops.Code("TOKEN_INVALID_TTL").With("ttl", ttl).Errorf("token ttl must be positive")
	}

	var value string
	backoff := retry.WithMaxRetries(maxIssueAttempts-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := GenerateTokenValue(t.random, purpose)
		if err != nil {
			return err
		}

		now := t.clock.Now()
		token, err := NewToken(userID, purpose, HashTokenValue(v), payload, now, now.Add(ttl))
		if err != nil {
			return err
		}

		if err := t.repo.Replace(ctx, token); err != nil {
			if errors.Is(err, ErrTokenCollision) {
				return retry.RetryableError(err)
			}
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("user_id", userID.String()).
			With("purpose", purpose).
			Wrap(err)
	}
	return value, nil
}

// Redeem consumes the token with the given value and purpose and calls apply
// with it. Deleting the token and everything apply writes commit together; if
// apply fails the token stays live.
//
// Fails with ErrTokenNotFound if no token matches and ErrTokenExpired if it is
// past its expiry. Expired tokens are left in place.
func (t *Tokens) Redeem(ctx context.Context, value string, purpose Purpose, apply func(ctx context.Context, token *Token) error) (*Token, error) {
	if value == "" {
		return nil, oops.Code(CodeTokenNotFound).With("purpose", purpose).Wrap(ErrTokenNotFound)
	}

	var redeemed *Token
	err := t.tx.InTransaction(ctx, func(ctx context.Context) error {
		token, err := t.repo.Take(ctx, purpose, HashTokenValue(value))
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeTokenNotFound).With("purpose", purpose).Wrap(ErrTokenNotFound)
		}
		if err != nil {
			return oops.Code("TOKEN_REDEEM_FAILED").
				With("operation", "take token").
				With("purpose", purpose).
				Wrap(err)
		}

		if token.IsExpiredAt(t.clock.Now()) {
			// Returning an error rolls back the delete, leaving the row inert.
			return oops.Code(CodeTokenExpired).
				With("purpose", purpose).
				With("user_id", token.UserID.String()).
				With("expired_at", token.ExpiresAt).
				Wrap(ErrTokenExpired)
		}

		if apply != nil {
			if err := apply(ctx, token); err != nil {
				return err
			}
		}
		redeemed = token
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}
