// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/account/accounttest"
	"github.com/holomush/accounts/pkg/errutil"
)

var sessionSecret = []byte("0123456789abcdef0123456789abcdef")

func newSessions(t *testing.T) (*account.Sessions, *accounttest.Clock) {
	t.Helper()
	clock := accounttest.NewClock(now)
	sessions, err := account.NewSessions(account.SessionConfig{
		Secret: sessionSecret,
		Issuer: "accounts",
		TTL:    time.Hour,
	}, clock)
	require.NoError(t, err)
	return sessions, clock
}

func sessionUser() *account.User {
	return &account.User{ID: ulid.Make(), Email: "ada@example.com", Username: strPtr("ada")}
}

func TestNewSessions(t *testing.T) {
	t.Run("rejects short secret", func(t *testing.T) {
		_, err := account.NewSessions(account.SessionConfig{Secret: []byte("short")}, nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_CONFIG_INVALID")
	})

	t.Run("rejects negative ttl", func(t *testing.T) {
		_, err := account.NewSessions(account.SessionConfig{Secret: sessionSecret, TTL: -time.Second}, nil)
		require.Error(t, err)
	})

	t.Run("rejects excessive leeway", func(t *testing.T) {
		_, err := account.NewSessions(account.SessionConfig{Secret: sessionSecret, Leeway: time.Hour}, nil)
		require.Error(t, err)
	})

	t.Run("defaults ttl", func(t *testing.T) {
		sessions, err := account.NewSessions(account.SessionConfig{Secret: sessionSecret}, accounttest.NewClock(now))
		require.NoError(t, err)
		_, expiresAt, err := sessions.Issue(sessionUser())
		require.NoError(t, err)
		assert.Equal(t, now.Add(account.DefaultSessionTTL), expiresAt)
	})
}

func TestSessions_IssueValidate(t *testing.T) {
	sessions, clock := newSessions(t)
	user := sessionUser()

	credential, expiresAt, err := sessions.Issue(user)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	t.Run("round trip carries identity snapshot", func(t *testing.T) {
		id, err := sessions.Validate(credential)
		require.NoError(t, err)
		assert.Equal(t, user.ID, id.UserID)
		assert.Equal(t, "ada@example.com", id.Email)
		assert.Equal(t, "ada", id.Username)
		assert.True(t, id.ExpiresAt.Equal(expiresAt))
		assert.True(t, id.Matches(user))
	})

	t.Run("snapshot drift is detected by Matches", func(t *testing.T) {
		id, err := sessions.Validate(credential)
		require.NoError(t, err)
		changed := *user
		changed.Email = "lovelace@example.com"
		assert.False(t, id.Matches(&changed))
	})

	t.Run("expired credential", func(t *testing.T) {
		clock.Advance(time.Hour + time.Second)
		defer clock.Set(now)

		_, err := sessions.Validate(credential)
		require.Error(t, err)
		assert.True(t, errors.Is(err, account.ErrUnauthenticated))
		errutil.AssertErrorCode(t, err, account.CodeSessionExpired)
	})

	t.Run("tampered credential", func(t *testing.T) {
		_, err := sessions.Validate(credential + "x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, account.ErrUnauthenticated))
		errutil.AssertErrorCode(t, err, account.CodeSessionInvalid)
	})

	t.Run("empty credential", func(t *testing.T) {
		_, err := sessions.Validate("")
		assert.True(t, errors.Is(err, account.ErrUnauthenticated))
	})

	t.Run("credential signed with another secret", func(t *testing.T) {
		other, err := account.NewSessions(account.SessionConfig{
			Secret: []byte("ffffffffffffffffffffffffffffffff"),
			Issuer: "accounts",
		}, clock)
		require.NoError(t, err)
		foreign, _, err := other.Issue(user)
		require.NoError(t, err)

		_, err = sessions.Validate(foreign)
		errutil.AssertErrorCode(t, err, account.CodeSessionInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := account.NewSessions(account.SessionConfig{Secret: sessionSecret, Issuer: "elsewhere"}, clock)
		require.NoError(t, err)
		foreign, _, err := other.Issue(user)
		require.NoError(t, err)

		_, err = sessions.Validate(foreign)
		errutil.AssertErrorCode(t, err, account.CodeSessionInvalid)
	})

	t.Run("unsigned algorithm is refused", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    "accounts",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		})
		raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = sessions.Validate(raw)
		errutil.AssertErrorCode(t, err, account.CodeSessionInvalid)
	})
}

func TestSessions_IssueRequiresUser(t *testing.T) {
	sessions, _ := newSessions(t)
	_, _, err := sessions.Issue(nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_USER")
}
