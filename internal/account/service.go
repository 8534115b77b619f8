// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/holomush/accounts/internal/account")

// TokenStore issues and redeems single-use tokens. Implemented by Tokens.
type TokenStore interface {
	Issue(ctx context.Context, userID ulid.ULID, purpose Purpose, ttl time.Duration, payload string) (string, error)
	Redeem(ctx context.Context, value string, purpose Purpose, apply func(ctx context.Context, token *Token) error) (*Token, error)
}

// SessionIssuer issues and validates session credentials. Implemented by Sessions.
type SessionIssuer interface {
	Issue(user *User) (string, time.Time, error)
	Validate(credential string) (*Identity, error)
}

// ServiceConfig holds token lifetimes and policy switches.
type ServiceConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	EmailChangeTTL  time.Duration

	// RejectResendWhenVerified makes ResendVerification fail with
	// ErrAlreadyVerified for confirmed accounts.
	RejectResendWhenVerified bool
}

// DefaultServiceConfig returns one-hour token lifetimes and rejects resends
// for confirmed accounts.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		VerificationTTL:          time.Hour,
		ResetTTL:                 time.Hour,
		EmailChangeTTL:           time.Hour,
		RejectResendWhenVerified: true,
	}
}

// Dependencies are the collaborators of Service.
// Notifier, Clock and Logger are optional.
type Dependencies struct {
	Users    UserRepository
	Tokens   TokenStore
	Sessions SessionIssuer
	Hasher   PasswordHasher
	Tx       Transactor
	Notifier Notifier
	Clock    Clock
	Logger   *slog.Logger
}

// SignupInput is the data needed to register an account.
type SignupInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Service implements the account credential flows.
type Service struct {
	users    UserRepository
	tokens   TokenStore
	sessions SessionIssuer
	hasher   PasswordHasher
	tx       Transactor
	notifier Notifier
	clock    Clock
	logger   *slog.Logger
	config   ServiceConfig
}

// NewService creates a Service. Required dependencies must be non-nil.
func NewService(deps Dependencies, cfg ServiceConfig) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Errorf("user repository is required")
	case deps.Tokens == nil:
		return nil, oops.Errorf("token store is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session issuer is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Tx == nil:
		return nil, oops.Errorf("transactor is required")
	}
	if cfg.VerificationTTL <= 0 || cfg.ResetTTL <= 0 || cfg.EmailChangeTTL <= 0 {
		return nil, oops.Errorf("token lifetimes must be positive")
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		users:    deps.Users,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		hasher:   deps.Hasher,
		tx:       deps.Tx,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		logger:   deps.Logger,
		config:   cfg,
	}, nil
}

// dummyPasswordHash is verified when the login identifier matches no user so
// that response time does not reveal whether the account exists.
//
//nolint:gosec // G101: intentionally fake hash, never matches any password.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// CheckEmail reports whether email is free to register.
func (s *Service) CheckEmail(ctx context.Context, email string) (available bool, err error) {
	ctx, span := tracer.Start(ctx, "account.CheckEmail")
	defer func() { endSpan(span, err) }()

	normalized, err := ValidateEmail(email)
	if err != nil {
		return false, err
	}
	return s.emailAvailable(ctx, normalized)
}

// CheckUsername reports whether username is free to register.
func (s *Service) CheckUsername(ctx context.Context, username string) (available bool, err error) {
	ctx, span := tracer.Start(ctx, "account.CheckUsername")
	defer func() { endSpan(span, err) }()

	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	return s.usernameAvailable(ctx, NormalizeUsername(username))
}

// Signup creates an unverified account and sends its verification code.
// Returns the new user and the plaintext verification token.
func (s *Service) Signup(ctx context.Context, in SignupInput) (user *User, token string, err error) {
	ctx, span := tracer.Start(ctx, "account.Signup")
	defer func() { endSpan(span, err) }()

	email, err := ValidateEmail(in.Email)
	if err != nil {
		return nil, "", err
	}
	var username *string
	if strings.TrimSpace(in.Username) != "" {
		if err := ValidateUsername(in.Username); err != nil {
			return nil, "", err
		}
		u := NormalizeUsername(in.Username)
		username = &u
	}

	free, err := s.emailAvailable(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if !free {
		return nil, "", duplicateIdentity("email", email)
	}
	if username != nil {
		free, err := s.usernameAvailable(ctx, *username)
		if err != nil {
			return nil, "", err
		}
		if !free {
			return nil, "", duplicateIdentity("username", *username)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, "", err
	}

	user, err = NewUser(email, username, hash, in.FirstName, in.LastName, s.clock.Now())
	if err != nil {
		return nil, "", err
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, ErrConflict) {
				return conflictIdentity(err, user)
			}
			return oops.Code("ACCOUNT_SIGNUP_FAILED").
				With("operation", "create user").
				Wrap(err)
		}
		token, err = s.tokens.Issue(ctx, user.ID, PurposeEmailVerification, s.config.VerificationTTL, "")
		return err
	})
	if err != nil {
		return nil, "", err
	}

	s.notifier.VerificationRequested(ctx, user, token)
	return user, token, nil
}

// ResendVerification issues a new verification code for the account with
// the given email, superseding any earlier one.
func (s *Service) ResendVerification(ctx context.Context, email string) (token string, err error) {
	ctx, span := tracer.Start(ctx, "account.ResendVerification")
	defer func() { endSpan(span, err) }()

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user.Status == StatusConfirmed && s.config.RejectResendWhenVerified {
		return "", oops.Code(CodeAlreadyVerified).
			With("user_id", user.ID.String()).
			Wrap(ErrAlreadyVerified)
	}

	token, err = s.tokens.Issue(ctx, user.ID, PurposeEmailVerification, s.config.VerificationTTL, "")
	if err != nil {
		return "", err
	}

	s.notifier.VerificationRequested(ctx, user, token)
	return token, nil
}

// VerifyEmail redeems a verification code and confirms the account.
func (s *Service) VerifyEmail(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "account.VerifyEmail")
	defer func() { endSpan(span, err) }()

	_, err = s.tokens.Redeem(ctx, token, PurposeEmailVerification, func(ctx context.Context, t *Token) error {
		return s.writeUser(ctx, t.UserID, "confirm", func(ctx context.Context) error {
			return s.users.Confirm(ctx, t.UserID, s.clock.Now())
		})
	})
	return err
}

// Login authenticates by email or username and issues a session credential.
// Unknown identifiers and wrong passwords fail identically with
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string) (session *Session, err error) {
	ctx, span := tracer.Start(ctx, "account.Login")
	defer func() { endSpan(span, err) }()

	normalized := strings.ToLower(strings.TrimSpace(identifier))

	var user *User
	var lookupErr error
	switch {
	case normalized == "":
		lookupErr = ErrNotFound
	case strings.Contains(normalized, "@"):
		user, lookupErr = s.users.GetByEmail(ctx, normalized)
	default:
		user, lookupErr = s.users.GetByUsername(ctx, normalized)
	}

	targetHash := dummyPasswordHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("ACCOUNT_LOGIN_FAILED").
				With("operation", "get user by identifier").
				Wrap(lookupErr)
		}
		user = nil
	} else {
		targetHash = user.PasswordHash
	}

	// Always verify so that response time does not depend on whether the user exists.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if user == nil {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	now := s.clock.Now()
	if user == nil || !valid {
		if user != nil {
			s.bestEffortWrite(ctx, user.ID, "record_failure", func(ctx context.Context) error {
				return s.users.RecordLoginFailure(ctx, user.ID, now)
			})
		}
		return nil, invalidCredentials()
	}

	// Checked after verification to keep timing uniform.
	if user.IsLocked(now) {
		return nil, oops.Code(CodeLocked).
			With("user_id", user.ID.String()).
			With("locked_until", user.LockedUntil).
			Wrap(ErrAccountLocked)
	}

	s.bestEffortWrite(ctx, user.ID, "record_success", func(ctx context.Context) error {
		return s.users.RecordLoginSuccess(ctx, user.ID, now)
	})
	user.RecordSuccess(now)

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if upgraded, hashErr := s.hasher.Hash(password); hashErr == nil {
			current := user.PasswordHash
			s.bestEffortWrite(ctx, user.ID, "upgrade_hash", func(ctx context.Context) error {
				return s.users.UpgradePasswordHash(ctx, user.ID, current, upgraded, now)
			})
			user.PasswordHash = upgraded
		}
	}

	credential, expiresAt, err := s.sessions.Issue(user)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "issue session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return &Session{Token: credential, ExpiresAt: expiresAt, User: user}, nil
}

// ForgotPassword issues a password reset token for the account with the
// given email, superseding any earlier one.
func (s *Service) ForgotPassword(ctx context.Context, email string) (token string, err error) {
	ctx, span := tracer.Start(ctx, "account.ForgotPassword")
	defer func() { endSpan(span, err) }()

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	token, err = s.tokens.Issue(ctx, user.ID, PurposePasswordReset, s.config.ResetTTL, "")
	if err != nil {
		return "", err
	}

	s.notifier.PasswordResetRequested(ctx, user, token)
	return token, nil
}

// ResetPassword redeems a reset token and sets a new password.
// A successful reset also clears any login lockout.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "account.ResetPassword")
	defer func() { endSpan(span, err) }()

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	_, err = s.tokens.Redeem(ctx, token, PurposePasswordReset, func(ctx context.Context, t *Token) error {
		now := s.clock.Now()
		return s.writeUser(ctx, t.UserID, "reset_password", func(ctx context.Context) error {
			if err := s.users.UpdatePassword(ctx, t.UserID, hash, now); err != nil {
				return err
			}
			return s.users.RecordLoginSuccess(ctx, t.UserID, now)
		})
	})
	return err
}

// ChangeEmail starts an email change for an authenticated user. The
// confirmation token is sent to the current address, never to newEmail.
func (s *Service) ChangeEmail(ctx context.Context, userID ulid.ULID, newEmail string) (token string, err error) {
	ctx, span := tracer.Start(ctx, "account.ChangeEmail")
	defer func() { endSpan(span, err) }()

	normalized, err := ValidateEmail(newEmail)
	if err != nil {
		return "", err
	}

	user, err := s.userByID(ctx, userID)
	if err != nil {
		return "", err
	}

	free, err := s.emailAvailable(ctx, normalized)
	if err != nil {
		return "", err
	}
	if !free {
		return "", duplicateIdentity("email", normalized)
	}

	token, err = s.tokens.Issue(ctx, user.ID, PurposeEmailChange, s.config.EmailChangeTTL, normalized)
	if err != nil {
		return "", err
	}

	s.notifier.EmailChangeRequested(ctx, user, normalized, token)
	return token, nil
}

// ConfirmEmailChange redeems an email change token and moves the account to
// the new address carried by the token.
func (s *Service) ConfirmEmailChange(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "account.ConfirmEmailChange")
	defer func() { endSpan(span, err) }()

	_, err = s.tokens.Redeem(ctx, token, PurposeEmailChange, func(ctx context.Context, t *Token) error {
		newEmail, err := ValidateEmail(t.Payload)
		if err != nil {
			return oops.Code("ACCOUNT_EMAIL_CHANGE_FAILED").
				With("token_id", t.ID.String()).
				Wrap(err)
		}

		// The address may have been taken since the change was requested.
		other, err := s.users.GetByEmail(ctx, newEmail)
		switch {
		case err == nil && other.ID != t.UserID:
			return duplicateIdentity("email", newEmail)
		case err != nil && !errors.Is(err, ErrNotFound):
			return oops.Code("ACCOUNT_EMAIL_CHANGE_FAILED").
				With("operation", "check email availability").
				Wrap(err)
		}

		return s.writeUser(ctx, t.UserID, "update_email", func(ctx context.Context) error {
			return s.users.UpdateEmail(ctx, t.UserID, newEmail, s.clock.Now())
		})
	})
	return err
}

// ChangePassword sets a new password for an authenticated user and sends an
// informational email. The email is best-effort.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "account.ChangePassword")
	defer func() { endSpan(span, err) }()

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	err = s.writeUser(ctx, userID, "change_password", func(ctx context.Context) error {
		return s.users.UpdatePassword(ctx, userID, hash, s.clock.Now())
	})
	if err != nil {
		return err
	}

	user, err := s.userByID(ctx, userID)
	if err != nil {
		return err
	}
	s.notifier.PasswordChanged(ctx, user)
	return nil
}

// UpdateProfile sets the display-name components of an authenticated user
// and returns the updated account.
func (s *Service) UpdateProfile(ctx context.Context, userID ulid.ULID, firstName, lastName string) (user *User, err error) {
	ctx, span := tracer.Start(ctx, "account.UpdateProfile")
	defer func() { endSpan(span, err) }()

	first, err := ValidateName("first_name", firstName)
	if err != nil {
		return nil, err
	}
	last, err := ValidateName("last_name", lastName)
	if err != nil {
		return nil, err
	}

	err = s.writeUser(ctx, userID, "update_profile", func(ctx context.Context) error {
		return s.users.UpdateProfile(ctx, userID, first, last, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return s.userByID(ctx, userID)
}

// Authenticate validates a session credential and returns the current user.
// Credentials whose email or username snapshot no longer matches the account
// are rejected.
func (s *Service) Authenticate(ctx context.Context, credential string) (user *User, err error) {
	ctx, span := tracer.Start(ctx, "account.Authenticate")
	defer func() { endSpan(span, err) }()

	identity, err := s.sessions.Validate(credential)
	if err != nil {
		return nil, err
	}

	user, err = s.users.GetByID(ctx, identity.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeSessionStale).
			With("user_id", identity.UserID.String()).
			Wrapf(ErrUnauthenticated, "session user no longer exists")
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_AUTHENTICATE_FAILED").
			With("operation", "get user by id").
			With("user_id", identity.UserID.String()).
			Wrap(err)
	}
	if !identity.Matches(user) {
		return nil, oops.Code(CodeSessionStale).
			With("user_id", user.ID.String()).
			Wrapf(ErrUnauthenticated, "account changed since session was issued")
	}
	return user, nil
}

func (s *Service) emailAvailable(ctx context.Context, email string) (bool, error) {
	_, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return false, nil
}

func (s *Service) usernameAvailable(ctx context.Context, username string) (bool, error) {
	_, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get user by username").
			Wrap(err)
	}
	return false, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (*User, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeNotFound).With("email", normalized).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

func (s *Service) userByID(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeNotFound).With("user_id", id.String()).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// writeUser runs a narrow repository write for the user identified by id
// and maps its failures onto the service taxonomy.
func (s *Service) writeUser(ctx context.Context, id ulid.ULID, operation string, write func(ctx context.Context) error) error {
	err := write(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		return conflictIdentity(err, nil)
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeNotFound).With("user_id", id.String()).Wrap(ErrNotFound)
	default:
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", operation).
			With("user_id", id.String()).
			Wrap(err)
	}
}

// bestEffortWrite persists login bookkeeping. Failures are logged; the login
// outcome does not depend on them.
func (s *Service) bestEffortWrite(ctx context.Context, id ulid.ULID, operation string, write func(ctx context.Context) error) {
	if err := write(ctx); err != nil {
		s.logger.WarnContext(ctx, "best-effort user update failed",
			"operation", operation,
			"user_id", id.String(),
			"error", err,
		)
	}
}

// conflictIdentity reports a repository uniqueness violation using the field
// the repository attached to it. user, when set, supplies the clashing value.
func conflictIdentity(err error, user *User) error {
	field := "email"
	if oopsErr, ok := oops.AsOops(err); ok {
		if f, ok := oopsErr.Context()["field"].(string); ok && f != "" {
			field = f
		}
	}
	b := oops.Code(CodeDuplicateIdentity).With("field", field)
	if user != nil {
		switch field {
		case "email":
			b = b.With("email", user.Email)
		case "username":
			b = b.With("username", user.UsernameOrEmpty())
		}
	}
	return b.Wrap(ErrDuplicateIdentity)
}

func duplicateIdentity(field, value string) error {
	return oops.Code(CodeDuplicateIdentity).
		With("field", field).
		With(field, value).
		Wrap(ErrDuplicateIdentity)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("account.failed", true))
	}
	span.End()
}
