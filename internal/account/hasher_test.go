// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/pkg/errutil"
)

func TestHashPassword(t *testing.T) {
	hasher := account.NewArgon2idHasher()

	t.Run("produces valid hash", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		require.Error(t, err)
		assert.True(t, errors.Is(err, account.ErrValidation))
		errutil.AssertErrorCode(t, err, account.CodeValidation)
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := account.NewArgon2idHasher()

	hash, err := hasher.Hash("correctpassword")
	require.NoError(t, err)

	t.Run("correct password verifies", func(t *testing.T) {
		ok, err := hasher.Verify("correctpassword", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect password fails", func(t *testing.T) {
		ok, err := hasher.Verify("wrongpassword", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	malformed := []struct {
		name     string
		hash     string
		contains string
	}{
		{name: "invalid hash format", hash: "not-a-valid-hash", contains: "invalid hash format"},
		{name: "wrong algorithm", hash: "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", contains: "unsupported hash algorithm"},
		{name: "invalid version", hash: "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA", contains: "invalid version"},
		{name: "invalid parameters", hash: "$argon2id$v=19$invalid$c2FsdA$aGFzaA", contains: "invalid parameter"},
		{name: "invalid salt base64", hash: "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA", contains: "invalid salt"},
		{name: "invalid hash base64", hash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!", contains: "invalid hash encoding"},
		{name: "threads overflow", hash: "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA", contains: "threads value"},
		{name: "zero threads", hash: "$argon2id$v=19$m=65536,t=1,p=0$c2FsdA$aGFzaA", contains: "threads value"},
	}
	for _, tt := range malformed {
		t.Run(tt.name+" returns hash format error", func(t *testing.T) {
			ok, err := hasher.Verify("password", tt.hash)
			require.Error(t, err)
			assert.False(t, ok)
			assert.Contains(t, err.Error(), tt.contains)
			assert.True(t, errors.Is(err, account.ErrHashFormat))
			errutil.AssertErrorCode(t, err, account.CodeHashFormat)
		})
	}
}

func TestVerifyBcryptLegacy(t *testing.T) {
	hasher := account.NewArgon2idHasher()

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("verifies matching bcrypt password", func(t *testing.T) {
		ok, err := hasher.Verify("legacy-secret", string(legacy))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejects wrong bcrypt password without error", func(t *testing.T) {
		ok, err := hasher.Verify("nope", string(legacy))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("truncated bcrypt hash is a format error", func(t *testing.T) {
		_, err := hasher.Verify("legacy-secret", "$2a$10$short")
		require.Error(t, err)
		assert.True(t, errors.Is(err, account.ErrHashFormat))
	})

	t.Run("detects bcrypt hash needing upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade(string(legacy)))
	})

	t.Run("argon2id hash does not need upgrade", func(t *testing.T) {
		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		assert.False(t, hasher.NeedsUpgrade(hash))
	})
}
