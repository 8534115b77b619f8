// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"net"
	"net/mail"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// RequireTLS fails delivery when the server does not offer STARTTLS.
	RequireTLS bool
	Timeout    time.Duration
}

// SMTPMailer delivers messages over SMTP, upgrading with STARTTLS when the
// server offers it.
type SMTPMailer struct {
	cfg  SMTPConfig
	from *mail.Address
	opts []gomail.Option
}

// NewSMTPMailer validates cfg and creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("port", cfg.Port).Errorf("smtp port out of range")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("from", cfg.From).Wrapf(err, "invalid from address")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	policy := gomail.TLSOpportunistic
	if cfg.RequireTLS {
		policy = gomail.TLSMandatory
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
		gomail.WithTLSPolicy(policy),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	if _, err := gomail.NewClient(cfg.Host, opts...); err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("host", cfg.Host).Wrap(err)
	}
	return &SMTPMailer{cfg: cfg, from: from, opts: opts}, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return oops.Code("MAIL_RECIPIENT_INVALID").With("kind", msg.Kind).Wrap(err)
	}

	out := m.compose(to, msg)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	errb := oops.With("addr", addr).With("kind", msg.Kind)

	// The connection is tracked so a failed handshake does not leave it open.
	var conn net.Conn
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, network, address)
		conn = c
		return c, err
	}
	client, err := gomail.NewClient(m.cfg.Host, append(m.opts, gomail.WithDialContextFunc(dial))...)
	if err != nil {
		return errb.Code("MAIL_CONFIG_INVALID").Wrap(err)
	}

	// Dialing covers EHLO, STARTTLS and AUTH.
	session, err := client.DialToSMTPClientWithContext(ctx)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return errb.Code("MAIL_DIAL_FAILED").With("stage", "dial").Wrap(err)
	}
	defer client.CloseWithSMTPClient(session) //nolint:errcheck // the explicit close below reports the meaningful error

	if err := client.SendWithSMTPClient(session, out); err != nil {
		return errb.Code("MAIL_SEND_FAILED").With("stage", "send").Wrap(err)
	}
	if err := client.CloseWithSMTPClient(session); err != nil {
		return errb.Code("MAIL_SEND_FAILED").With("stage", "quit").Wrap(err)
	}
	return nil
}

// compose builds msg as a multipart/alternative message. Bodies are
// quoted-printable so long template lines are wrapped.
func (m *SMTPMailer) compose(to *mail.Address, msg Message) *gomail.Msg {
	out := gomail.NewMsg(gomail.WithCharset(gomail.CharsetUTF8), gomail.WithEncoding(gomail.EncodingQP))
	out.FromMailAddress(m.from)
	out.ToMailAddress(to)
	out.Subject(msg.Subject)
	out.SetDate()
	out.SetMessageIDWithValue(ulid.Make().String() + "@" + m.cfg.Host)

	switch {
	case msg.Text != "" && msg.HTML != "":
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
		out.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		out.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
	}
	return out
}
