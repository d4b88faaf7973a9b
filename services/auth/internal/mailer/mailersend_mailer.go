package mailer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/mailersend/mailersend-go"
)

const (
	welcomeSubject = "Welcome to Milkyano"
	sendTimeout    = 10 * time.Second
)

var ErrNotConfigured = errors.New("mailersend not configured")

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendWelcomeEmail(ctx context.Context, toEmail, toName string) error {
	if !m.enabled {
		return ErrNotConfigured
	}

	text, body := welcomeBodies(toName)

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(welcomeSubject)
	msg.SetText(text)
	msg.SetHTML(body)

	if _, err := m.client.Email.Send(ctx, msg); err != nil {
		return fmt.Errorf("mailersend send: %w", err)
	}
	return nil
}

func welcomeBodies(name string) (text, body string) {
	text = fmt.Sprintf("Hi %s,\n\nYour phone number is verified and your account is ready. You can now book your next cut online.", name)
	body = fmt.Sprintf(`
		<h2>Welcome to Milkyano!</h2>
		<p>Hi %s,</p>
		<p>Your phone number is verified and your account is ready.</p>
		<p>You can now book your next cut online.</p>
	`, html.EscapeString(name))
	return text, body
}
