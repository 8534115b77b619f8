// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session credential configuration.
const (
	DefaultSessionTTL = time.Hour
	MinSessionSecret  = 32
	maxSessionLeeway  = 2 * time.Minute
)

// SessionConfig configures Sessions.
type SessionConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *User
}

// Identity is the verified content of a session credential.
type Identity struct {
	UserID    ulid.ULID
	Email     string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionClaims is the signed payload. Subject carries the user ID; email and
// username are snapshots used to detect credentials that outlived an account change.
type sessionClaims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Sessions issues and validates HS256-signed session credentials.
type Sessions struct {
	config SessionConfig
	clock  Clock
}

// NewSessions creates a Sessions issuer.
func NewSessions(cfg SessionConfig, clock Clock) (*Sessions, error) {
	if len(cfg.Secret) < MinSessionSecret {
		return nil, oops.Code("SESSION_CONFIG_INVALID").
			With("min", MinSessionSecret).
			Errorf("session secret must be at least %d bytes", MinSessionSecret)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("SESSION_CONFIG_INVALID").Errorf("session ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxSessionLeeway {
		return nil, oops.Code("SESSION_CONFIG_INVALID").
			With("leeway", cfg.Leeway).
			Errorf("session leeway must be between 0 and %s", maxSessionLeeway)
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Sessions{config: cfg, clock: clock}, nil
}

// Issue signs a credential for user and returns it with its expiry.
func (s *Sessions) Issue(user *User) (string, time.Time, error) {
	if user == nil || user.ID.Compare(ulid.ULID{}) == 0 {
		return "", time.Time{}, oops.Code("SESSION_INVALID_USER").Errorf("user is required")
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.config.TTL)
	claims := sessionClaims{
		Email:    user.Email,
		Username: user.UsernameOrEmpty(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ulid.Make().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_SIGN_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Validate verifies the credential's signature and expiry.
// Any failure is reported as ErrUnauthenticated.
func (s *Sessions) Validate(credential string) (*Identity, error) {
	if credential == "" {
		return nil, oops.Code(CodeSessionInvalid).Wrapf(ErrUnauthenticated, "session credential is empty")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.config.Leeway),
		jwt.WithTimeFunc(s.clock.Now),
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	claims := &sessionClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return s.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeSessionExpired).Wrapf(ErrUnauthenticated, "session has expired")
		}
		return nil, oops.Code(CodeSessionInvalid).Wrapf(ErrUnauthenticated, "invalid session credential: %v", err)
	}
	if !token.Valid {
		return nil, oops.Code(CodeSessionInvalid).Wrapf(ErrUnauthenticated, "invalid session credential")
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code(CodeSessionInvalid).Wrapf(ErrUnauthenticated, "invalid session subject")
	}

	identity := &Identity{
		UserID:   userID,
		Email:    claims.Email,
		Username: claims.Username,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Matches reports whether the identity snapshot still agrees with user.
func (id *Identity) Matches(user *User) bool {
	return id.UserID == user.ID &&
		id.Email == user.Email &&
		id.Username == user.UsernameOrEmpty()
}
