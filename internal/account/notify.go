// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import "context"

// Notifier delivers account emails. Methods are fire-and-forget: they are
// called after the triggering state change has committed, must not block on
// delivery, and report failures through their own logging.
type Notifier interface {
	// VerificationRequested sends the email verification code to user.Email.
	VerificationRequested(ctx context.Context, user *User, token string)

	// PasswordResetRequested sends the password reset token to user.Email.
	PasswordResetRequested(ctx context.Context, user *User, token string)

	// EmailChangeRequested sends the confirmation token to the current
	// (old) address, never to newEmail.
	EmailChangeRequested(ctx context.Context, user *User, newEmail, token string)

	// PasswordChanged informs user.Email that the password was changed.
	PasswordChanged(ctx context.Context, user *User)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// VerificationRequested implements Notifier.
func (NopNotifier) VerificationRequested(context.Context, *User, string) {}

// PasswordResetRequested implements Notifier.
func (NopNotifier) PasswordResetRequested(context.Context, *User, string) {}

// EmailChangeRequested implements Notifier.
func (NopNotifier) EmailChangeRequested(context.Context, *User, string, string) {}

// PasswordChanged implements Notifier.
func (NopNotifier) PasswordChanged(context.Context, *User) {}
