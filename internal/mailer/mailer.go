// Package mailer sends the e-mail that invites a recipient to submit a
// secret. SMTPMailer composes MIME with enmime and relays it over SMTP;
// LogMailer only logs, for development setups without a relay.
package mailer

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
)

// RequestSubject is the subject line of the invitation e-mail.
const RequestSubject = "We need your information"

// ErrNoRecipient is returned for messages without a To address.
var ErrNoRecipient = errors.New("mailer: no recipient")

// Message is a single outbound e-mail. HTML is the body; a plain text part
// is derived from it.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var requestTmpl = template.Must(template.New("email-request").Parse(
	`<p>Hello,</p>
<p>An application has asked you to provide some information through the vault.</p>
<p>Please follow this link to submit it. The link works only once.</p>
<p><a href="{{.}}">{{.}}</a></p>`))

// RequestMessage builds the invitation e-mail carrying the input URL.
func RequestMessage(to, inputURL string) (Message, error) {
	var b strings.Builder
	if err := requestTmpl.Execute(&b, inputURL); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: RequestSubject, HTML: b.String()}, nil
}

// textPolicy strips every tag, leaving text content.
var textPolicy = bluemonday.StrictPolicy()

func htmlToText(html string) string {
	clean := textPolicy.Sanitize(strings.ReplaceAll(html, "</p>", "</p>\n"))
	lines := strings.Split(clean, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n\n")
}

// SMTPMailer relays messages through an SMTP server.
type SMTPMailer struct {
	From   mail.Address
	Sender enmime.Sender
}

// NewSMTPMailer returns a mailer relaying through addr (host:port). PLAIN
// auth is used when username is set.
func NewSMTPMailer(addr, username, password string, from mail.Address) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{From: from, Sender: enmime.NewSMTP(addr, auth)}
}

// Send builds a multipart/alternative message and hands it to the relay.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return enmime.Builder().
		From(m.From.Name, m.From.Address).
		To("", msg.To).
		Subject(msg.Subject).
		Header("X-Mailer", "Vault").
		Text([]byte(htmlToText(msg.HTML))).
		HTML([]byte(msg.HTML)).
		Send(m.Sender)
}

// LogMailer logs messages instead of sending them.
type LogMailer struct {
	Log zerolog.Logger
}

// Send writes the message to the log at info level.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	m.Log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", htmlToText(msg.HTML)).
		Msg("mail not sent (log mailer)")
	return nil
}
