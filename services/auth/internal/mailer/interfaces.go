package mailer

import "context"

type Service interface {
	SendWelcomeEmail(ctx context.Context, toEmail, toName string) error
}
