// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accounts/pkg/errutil"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer("Acme")

	tests := []struct {
		kind    Kind
		subject string
		data    Data
		want    []string
	}{
		{KindVerification, "Email Verification Requested", Data{Name: "Ada", Token: "482913"}, []string{"Ada", "482913", "Acme"}},
		{KindPasswordReset, "Password Reset Requested", Data{Name: "Ada", Token: "Zx81abc"}, []string{"Zx81abc"}},
		{KindEmailChange, "Email Change Requested", Data{Name: "Ada", Email: "old@example.com", NewEmail: "new@example.com", Token: "tok"}, []string{"old@example.com", "new@example.com", "tok"}},
		{KindPasswordChanged, "Password Changed", Data{Name: "Ada"}, []string{"password", "Acme"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg, err := r.Render(tt.kind, "ada@example.com", tt.data)
			require.NoError(t, err)

			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, "ada@example.com", msg.To)
			assert.Equal(t, tt.subject, msg.Subject)
			for _, s := range tt.want {
				assert.Contains(t, msg.Text, s)
				assert.Contains(t, msg.HTML, s)
			}
		})
	}
}

func TestRenderer_EscapesHTML(t *testing.T) {
	msg, err := NewRenderer("Acme").Render(KindVerification, "x@example.com", Data{Name: "<script>alert(1)</script>", Token: "1"})
	require.NoError(t, err)

	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
	assert.Contains(t, msg.Text, "<script>")
}

func TestRenderer_FallsBackToAddress(t *testing.T) {
	msg, err := NewRenderer("").Render(KindPasswordChanged, "anon@example.com", Data{})
	require.NoError(t, err)

	assert.Contains(t, msg.Text, "Hi anon@example.com,")
	assert.Contains(t, msg.Text, "Accounts Team")
}

func TestRenderer_UnknownKind(t *testing.T) {
	_, err := NewRenderer("Acme").Render(Kind("newsletter"), "x@example.com", Data{})
	errutil.AssertErrorCode(t, err, "MAIL_UNKNOWN_KIND")
}
