// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail renders and delivers account emails.
package mail

import (
	"context"
	"log/slog"
)

// Kind identifies an account email.
type Kind string

// Account email kinds.
const (
	KindVerification    Kind = "verification"
	KindPasswordReset   Kind = "password_reset"
	KindEmailChange     Kind = "email_change"
	KindPasswordChanged Kind = "password_changed"
)

// Message is a rendered email ready for delivery.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs messages instead of sending them. It is used when mail
// delivery is disabled.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail delivery disabled, message not sent",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject)
	return nil
}
