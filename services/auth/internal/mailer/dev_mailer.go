package mailer

import (
	"context"

	"github.com/milkyano/barber-core/pkg/logger"
)

// DevMailer logs emails instead of sending them.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendWelcomeEmail(ctx context.Context, toEmail, toName string) error {
	logger.InfoContext(ctx, "[DEV MAIL] Welcome email",
		"to", toEmail,
		"name", toName,
		"subject", welcomeSubject,
	)
	return nil
}
