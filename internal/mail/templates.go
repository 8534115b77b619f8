// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/samber/oops"
)

//go:embed templates/*.html templates/*.txt
var templatesFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templatesFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templatesFS, "templates/*.txt"))
)

var subjects = map[Kind]string{
	KindVerification:    "Email Verification Requested",
	KindPasswordReset:   "Password Reset Requested",
	KindEmailChange:     "Email Change Requested",
	KindPasswordChanged: "Password Changed",
}

// Data is the template input for an account email.
type Data struct {
	AppName  string
	Name     string
	Email    string
	NewEmail string
	Token    string
}

// Renderer turns account events into messages.
type Renderer struct {
	appName string
}

// NewRenderer creates a Renderer that signs emails with appName.
func NewRenderer(appName string) *Renderer {
	if appName == "" {
		appName = "Accounts"
	}
	return &Renderer{appName: appName}
}

// Render builds the message of the given kind addressed to to.
func (r *Renderer) Render(kind Kind, to string, data Data) (Message, error) {
	subject, ok := subjects[kind]
	if !ok {
		return Message{}, oops.Code("MAIL_UNKNOWN_KIND").With("kind", kind).Errorf("unknown mail kind")
	}
	data.AppName = r.appName
	if strings.TrimSpace(data.Name) == "" {
		data.Name = to
	}

	name := string(kind)
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("kind", kind).With("part", "text").Wrap(err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("kind", kind).With("part", "html").Wrap(err)
	}

	return Message{
		Kind:    kind,
		To:      to,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
