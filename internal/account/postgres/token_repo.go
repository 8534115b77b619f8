// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
)

// tokensHashIndex is the unique constraint on (purpose, token_hash).
const tokensHashIndex = "account_tokens_purpose_token_hash_key"

// TokenRepository implements account.TokenRepository using PostgreSQL.
//
// The table holds at most one row per (user_id, purpose); Replace is an
// upsert on that key, so concurrent issuers for the same pair serialize on
// the row and the last writer wins.
type TokenRepository struct {
	pool Pool
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(pool Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

const upsertTokenSQL = `
		INSERT INTO account_tokens (id, user_id, purpose, token_hash, payload, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, purpose) DO UPDATE SET
			id = EXCLUDED.id,
			token_hash = EXCLUDED.token_hash,
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`

// Replace stores token, superseding any token of the same user and purpose.
func (r *TokenRepository) Replace(ctx context.Context, token *account.Token) error {
	args := []any{
		token.ID.String(),
		token.UserID.String(),
		string(token.Purpose),
		token.TokenHash,
		nullableString(token.Payload),
		token.ExpiresAt,
		token.CreatedAt,
	}

	var err error
	if tx, ok := txFromContext(ctx); ok {
		err = r.replaceInSavepoint(ctx, tx, args)
	} else {
		_, err = r.pool.Exec(ctx, upsertTokenSQL, args...)
	}
	if err == nil {
		return nil
	}

	if constraint, ok := uniqueViolation(err); ok && constraint == tokensHashIndex {
		return oops.Code("TOKEN_COLLISION").
			With("purpose", token.Purpose).
			Wrap(account.ErrTokenCollision)
	}
	return oops.Code("TOKEN_REPLACE_FAILED").
		With("operation", "upsert token").
		With("user_id", token.UserID.String()).
		With("purpose", token.Purpose).
		Wrap(err)
}

// replaceInSavepoint runs the upsert under a savepoint so that a collision
// does not abort the caller's transaction.
func (r *TokenRepository) replaceInSavepoint(ctx context.Context, tx pgx.Tx, args []any) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return oops.Code("TX_SAVEPOINT_FAILED").Wrap(err)
	}
	if _, err := sp.Exec(ctx, upsertTokenSQL, args...); err != nil {
		_ = sp.Rollback(ctx) //nolint:errcheck // original error takes precedence
		return err
	}
	return sp.Commit(ctx)
}

// Take deletes and returns the token with the given purpose and digest.
func (r *TokenRepository) Take(ctx context.Context, purpose account.Purpose, tokenHash string) (*account.Token, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		DELETE FROM account_tokens
		WHERE purpose = $1 AND token_hash = $2
		RETURNING id, user_id, purpose, token_hash, payload, expires_at, created_at
	`, string(purpose), tokenHash)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("purpose", purpose).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_TAKE_FAILED").
			With("operation", "delete token").
			With("purpose", purpose).
			Wrap(err)
	}
	return token, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanToken scans a single row into a Token.
// Callers are responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*account.Token, error) {
	var (
		idStr     string
		userIDStr string
		purpose   string
		tokenHash string
		payload   *string
		expiresAt time.Time
		createdAt time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &purpose, &tokenHash, &payload, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", idStr).
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	token := &account.Token{
		ID:        id,
		UserID:    userID,
		Purpose:   account.Purpose(purpose),
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}
	if payload != nil {
		token.Payload = *payload
	}
	return token, nil
}

// Compile-time interface check.
var _ account.TokenRepository = (*TokenRepository)(nil)
