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

// Unique index names from the users migration.
const (
	usersEmailIndex    = "users_email_lower_idx"
	usersUsernameIndex = "users_username_lower_idx"
)

const userColumns = `id, email, username, password_hash, first_name, last_name,
		       email_verified, status, failed_attempts, locked_until,
		       created_at, updated_at`

// UserRepository implements account.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *account.User) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (
			id, email, username, password_hash, first_name, last_name,
			email_verified, status, failed_attempts, locked_until,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID.String(),
		user.Email,
		user.Username,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.EmailVerified,
		string(user.Status),
		user.FailedAttempts,
		user.LockedUntil,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if conflict := userConflict(err, user.ID); conflict != nil {
			return conflict
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*account.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*account.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(username) = LOWER($1)
	`, username)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// RecordLoginFailure increments failed_attempts in place and sets
// locked_until once the incremented count reaches the lockout threshold.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.updateColumns(ctx, id, "record login failure", `
		UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END,
			updated_at = $4
		WHERE id = $1
	`, id.String(), account.LockoutThreshold, now.Add(account.LockoutDuration), now)
}

// RecordLoginSuccess clears failed_attempts and locked_until.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.updateColumns(ctx, id, "record login success", `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, id.String(), now)
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, hash string, now time.Time) error {
	return r.updateColumns(ctx, id, "update password", `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), hash, now)
}

// UpgradePasswordHash swaps current for upgraded only while current is still
// the stored hash.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, current, upgraded string, now time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2
	`, id.String(), current, upgraded, now)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "upgrade password hash").
			With("user_id", id.String()).
			Wrap(err)
	}
	return nil
}

// Confirm marks the email verified and the account confirmed.
func (r *UserRepository) Confirm(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.updateColumns(ctx, id, "confirm user", `
		UPDATE users SET email_verified = TRUE, status = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), string(account.StatusConfirmed), now)
}

// UpdateEmail moves the user to a new email.
func (r *UserRepository) UpdateEmail(ctx context.Context, id ulid.ULID, email string, now time.Time) error {
	return r.updateColumns(ctx, id, "update email", `
		UPDATE users SET email = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), email, now)
}

// UpdateProfile sets first_name and last_name.
func (r *UserRepository) UpdateProfile(ctx context.Context, id ulid.ULID, firstName, lastName string, now time.Time) error {
	return r.updateColumns(ctx, id, "update profile", `
		UPDATE users SET first_name = $2, last_name = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), firstName, lastName, now)
}

// updateColumns runs a single-row UPDATE keyed by id.
func (r *UserRepository) updateColumns(ctx context.Context, id ulid.ULID, operation, query string, args ...any) error {
	result, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		if conflict := userConflict(err, id); conflict != nil {
			return conflict
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", operation).
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// userConflict maps a unique violation on users to account.ErrConflict.
// Returns nil for any other error.
func userConflict(err error, id ulid.ULID) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	field := "id"
	switch constraint {
	case usersEmailIndex:
		field = "email"
	case usersUsernameIndex:
		field = "username"
	}
	return oops.Code(account.CodeUserConflict).
		With("field", field).
		With("constraint", constraint).
		With("user_id", id.String()).
		Wrapf(account.ErrConflict, "%s already in use", field)
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*account.User, error) {
	var (
		idStr          string
		email          string
		username       *string
		passwordHash   string
		firstName      string
		lastName       string
		emailVerified  bool
		status         string
		failedAttempts int
		lockedUntil    *time.Time
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&username,
		&passwordHash,
		&firstName,
		&lastName,
		&emailVerified,
		&status,
		&failedAttempts,
		&lockedUntil,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("user_id", idStr).
			Wrap(err)
	}

	return &account.User{
		ID:             id,
		Email:          email,
		Username:       username,
		PasswordHash:   passwordHash,
		FirstName:      firstName,
		LastName:       lastName,
		EmailVerified:  emailVerified,
		Status:         account.Status(status),
		FailedAttempts: failedAttempts,
		LockedUntil:    lockedUntil,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// Compile-time interface check.
var _ account.UserRepository = (*UserRepository)(nil)
