package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"sgpj-legal/internal/config"
	"sgpj-legal/pkg/models"
)

// mailer is the part of *gomail.Dialer the service uses.
type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailService struct {
	cfg    *config.Config
	dialer mailer
}

// NewEmailService builds the SMTP channel from configuration.
func NewEmailService(cfg *config.Config) (*EmailService, error) {
	if cfg.SMTPUsername == "" || cfg.SMTPPassword == "" {
		return nil, fmt.Errorf("SMTP credentials not configured")
	}

	dialer := gomail.NewDialer(
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUsername,
		cfg.SMTPPassword,
	)

	return &EmailService{
		cfg:    cfg,
		dialer: dialer,
	}, nil
}

func (s *EmailService) Channel() models.Channel {
	return models.ChannelEmail
}

// Send delivers a reminder as plain text with an HTML alternative.
func (s *EmailService) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("email recipient is empty")
	}

	m := s.buildMessage(to, subject, body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func (s *EmailService) buildMessage(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.SMTPFromEmail, s.cfg.SMTPFromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	m.AddAlternative("text/html", ReminderTemplate(subject, body, s.cfg.SMTPFromName))
	return m
}
