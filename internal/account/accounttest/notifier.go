// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package accounttest

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/accounts/internal/account"
)

// Notification kinds recorded by Notifier.
const (
	KindVerification    = "verification"
	KindPasswordReset   = "password_reset"
	KindEmailChange     = "email_change"
	KindPasswordChanged = "password_changed"
)

// Notification is one recorded Notifier call.
type Notification struct {
	Kind     string
	UserID   ulid.ULID
	To       string
	NewEmail string
	Token    string
}

// Notifier records notifications instead of sending them.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification
}

// NewNotifier creates an empty recording Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) record(rec Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, rec)
}

// VerificationRequested implements account.Notifier.
func (n *Notifier) VerificationRequested(_ context.Context, user *account.User, token string) {
	n.record(Notification{Kind: KindVerification, UserID: user.ID, To: user.Email, Token: token})
}

// PasswordResetRequested implements account.Notifier.
func (n *Notifier) PasswordResetRequested(_ context.Context, user *account.User, token string) {
	n.record(Notification{Kind: KindPasswordReset, UserID: user.ID, To: user.Email, Token: token})
}

// EmailChangeRequested implements account.Notifier.
func (n *Notifier) EmailChangeRequested(_ context.Context, user *account.User, newEmail, token string) {
	n.record(Notification{Kind: KindEmailChange, UserID: user.ID, To: user.Email, NewEmail: newEmail, Token: token})
}

// PasswordChanged implements account.Notifier.
func (n *Notifier) PasswordChanged(_ context.Context, user *account.User) {
	n.record(Notification{Kind: KindPasswordChanged, UserID: user.ID, To: user.Email})
}

// Sent returns a copy of all recorded notifications in order.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// Last returns the most recent notification of kind.
func (n *Notifier) Last(kind string) (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return Notification{}, false
}
