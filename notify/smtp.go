// Package notify delivers password-reset email. The SMTP implementation
// rides go-mail; LogNotifier stands in where no mail relay exists.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	mail "github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier sends the reset link over an authenticated SMTP relay.
type SMTPNotifier struct {
	client *mail.Client
	from   string
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPNotifier{client: client, from: cfg.From}, nil
}

func (n *SMTPNotifier) SendPasswordResetEmail(ctx context.Context, email, resetLink string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return err
	}
	if err := msg.To(email); err != nil {
		return err
	}
	msg.Subject("Reset your password")
	msg.SetBodyString(mail.TypeTextHTML, resetBody(resetLink))

	return n.client.DialAndSendWithContext(ctx, msg)
}

func resetBody(resetLink string) string {
	return fmt.Sprintf(
		`<p>A password reset was requested for your account.</p>
<p><a href=%q>Reset your password</a></p>
<p>The link expires in 15 minutes. If you did not request this, ignore this email.</p>`,
		resetLink,
	)
}

// LogNotifier writes the reset link to the log instead of sending mail.
// Development and test environments only: the link grants a password reset.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendPasswordResetEmail(_ context.Context, email, resetLink string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("password reset link issued",
		slog.String("email", email),
		slog.String("link", resetLink))
	return nil
}
