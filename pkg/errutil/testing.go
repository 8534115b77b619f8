// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code())
}

// AssertErrorContext asserts that err's merged context maps key to value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	details := requireOops(t, err).Context()
	if assert.Contains(t, details, key) {
		assert.Equal(t, value, details[key])
	}
}

// AssertErrorKind asserts that err wraps the sentinel kind and carries code.
func AssertErrorKind(t *testing.T, err, kind error, code string) {
	t.Helper()
	assert.True(t, errors.Is(err, kind), "expected %v in chain of %v", kind, err)
	AssertErrorCode(t, err, code)
}
