// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Status is the lifecycle state of an account.
type Status string

// Account statuses.
const (
	StatusUnverified Status = "unverified"
	StatusConfirmed  Status = "confirmed"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxEmailLength    = 254
	MaxNameLength     = 100
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// User is an account identity record.
type User struct {
	ID             ulid.ULID
	Email          string
	Username       *string
	PasswordHash   string
	FirstName      string
	LastName       string
	EmailVerified  bool
	Status         Status
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a validated, unverified User.
// The email and username are normalized to lowercase.
func NewUser(email string, username *string, passwordHash, firstName, lastName string, now time.Time) (*User, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	var uname *string
	if username != nil && strings.TrimSpace(*username) != "" {
		if err := ValidateUsername(*username); err != nil {
			return nil, err
		}
		u := NormalizeUsername(*username)
		uname = &u
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeValidation).Wrapf(ErrValidation, "password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		Email:        normalized,
		Username:     uname,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Status:       StatusUnverified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// DisplayName returns the name used to greet the user in emails.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != nil {
		return *u.Username
	}
	return u.Email
}

// UsernameOrEmpty returns the username or "" when none is set.
func (u *User) UsernameOrEmpty() string {
	if u.Username == nil {
		return ""
	}
	return *u.Username
}

// IsLocked reports whether the user is locked out at the given time.
func (u *User) IsLocked(now time.Time) bool {
	return IsLockedOut(u.LockedUntil, now)
}

// RecordFailure increments the failure counter and sets lockout if threshold reached.
func (u *User) RecordFailure(now time.Time) {
	u.FailedAttempts++
	u.LockedUntil = ComputeLockoutTime(u.FailedAttempts, now)
	u.UpdatedAt = now
}

// RecordSuccess resets failure counter and lockout.
func (u *User) RecordSuccess(now time.Time) {
	u.FailedAttempts, u.LockedUntil = ResetOnSuccess()
	u.UpdatedAt = now
}

// Confirm marks the email as verified and the account as confirmed.
func (u *User) Confirm(now time.Time) {
	u.EmailVerified = true
	u.Status = StatusConfirmed
	u.UpdatedAt = now
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateEmail checks that email is a bare address and returns it normalized.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", oops.Code(CodeValidation).With("field", "email").Wrapf(ErrValidation, "email cannot be empty")
	}
	if len(normalized) > MaxEmailLength {
		return "", oops.Code(CodeValidation).
			With("field", "email").
			With("max", MaxEmailLength).
			Wrapf(ErrValidation, "email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", oops.Code(CodeValidation).With("field", "email").Wrapf(ErrValidation, "email is not a valid address")
	}
	return normalized, nil
}

// ValidateName checks a display-name component and returns it trimmed.
// field names the component in the error.
func ValidateName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", oops.Code(CodeValidation).With("field", field).Wrapf(ErrValidation, "%s cannot be empty", field)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", oops.Code(CodeValidation).
			With("field", field).
			With("max", MaxNameLength).
			Wrapf(ErrValidation, "%s must be at most %d characters", field, MaxNameLength)
	}
	return name, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return oops.Code(CodeValidation).With("field", "username").Wrapf(ErrValidation, "username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeValidation).
			With("field", "username").
			With("min", MinUsernameLength).
			Wrapf(ErrValidation, "username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeValidation).
			With("field", "username").
			With("max", MaxUsernameLength).
			Wrapf(ErrValidation, "username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeValidation).
			With("field", "username").
			Wrapf(ErrValidation, "username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// UserRepository manages user persistence.
// Implementations enforce case-insensitive uniqueness of email and username
// and report violations as ErrConflict.
//
// Writes touch only the columns they name, so concurrent flows on the same
// user never overwrite each other with values read earlier. Writes to a
// missing user return ErrNotFound.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// RecordLoginFailure increments the failure counter and locks the
	// account once it reaches LockoutThreshold.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time) error

	// RecordLoginSuccess clears the failure counter and any lockout.
	RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, hash string, now time.Time) error

	// UpgradePasswordHash replaces current with upgraded. It is a no-op when
	// the stored hash is no longer current.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, current, upgraded string, now time.Time) error

	// Confirm marks the email as verified and the account as confirmed.
	Confirm(ctx context.Context, id ulid.ULID, now time.Time) error

	// UpdateEmail moves the account to a new, already normalized email.
	UpdateEmail(ctx context.Context, id ulid.ULID, email string, now time.Time) error

	// UpdateProfile sets the display-name components.
	UpdateProfile(ctx context.Context, id ulid.ULID, firstName, lastName string, now time.Time) error
}
