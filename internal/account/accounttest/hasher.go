// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package accounttest

import (
	"strings"

	"github.com/holomush/accounts/internal/account"
)

// Hash prefixes produced and recognized by Hasher.
const (
	plainPrefix  = "plain$"
	LegacyPrefix = "legacy$"
)

// Hasher is a fast, insecure account.PasswordHasher. Hashes are the password
// behind a "plain$" prefix; "legacy$" hashes verify the same way but report
// NeedsUpgrade.
type Hasher struct{}

// Hash implements account.PasswordHasher.
func (Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", account.ErrEmptyPassword
	}
	return plainPrefix + password, nil
}

// Verify implements account.PasswordHasher. Hashes of any other shape never match.
func (Hasher) Verify(password, hash string) (bool, error) {
	for _, prefix := range []string{plainPrefix, LegacyPrefix} {
		if stored, ok := strings.CutPrefix(hash, prefix); ok {
			return stored == password, nil
		}
	}
	return false, nil
}

// NeedsUpgrade implements account.PasswordHasher.
func (Hasher) NeedsUpgrade(hash string) bool {
	return !strings.HasPrefix(hash, plainPrefix)
}
