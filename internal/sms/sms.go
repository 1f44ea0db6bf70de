package sms

import (
	"context"
	"fmt"

	"github.com/kavenegar/kavenegar-go"
	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/config"
	"sgpj-legal/internal/notify"
	"sgpj-legal/pkg/models"
)

// NewSender returns the SMS implementation selected by SMS_PROVIDER.
func NewSender(cfg *config.Config, log *logrus.Logger) notify.Sender {
	switch cfg.SMSProvider {
	case "kavenegar":
		if cfg.SMSAPIKey == "" {
			log.Warn("kavenegar API key is empty, falling back to simulated SMS")
			return NewSimulatedSender(log)
		}
		return NewKavenegarSender(cfg.SMSAPIKey, cfg.SMSSender)
	default:
		return NewSimulatedSender(log)
	}
}

type kavenegarSender struct {
	send func(receptor, message string) (int64, error)
}

// NewKavenegarSender sends through the Kavenegar REST API.
func NewKavenegarSender(apiKey, sender string) notify.Sender {
	api := kavenegar.New(apiKey)
	return &kavenegarSender{
		send: func(receptor, message string) (int64, error) {
			res, err := api.Message.Send(sender, []string{receptor}, message, nil)
			if err != nil {
				switch err := err.(type) {
				case *kavenegar.APIError:
					return 0, fmt.Errorf("kavenegar API error: %w", err)
				case *kavenegar.HTTPError:
					return 0, fmt.Errorf("kavenegar HTTP error: %w", err)
				default:
					return 0, fmt.Errorf("failed to send SMS: %w", err)
				}
			}
			if len(res) == 0 {
				return 0, fmt.Errorf("no response entries from Kavenegar")
			}
			return int64(res[0].MessageID), nil
		},
	}
}

func (s *kavenegarSender) Channel() models.Channel {
	return models.ChannelSMS
}

// Send ignores subject: SMS carries the title as the first line of body.
func (s *kavenegarSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("phone number is required")
	}
	_, err := s.send(to, smsText(subject, body))
	return err
}

type simulatedSender struct {
	log *logrus.Logger
}

// NewSimulatedSender logs messages instead of sending them.
func NewSimulatedSender(log *logrus.Logger) notify.Sender {
	return &simulatedSender{log: log}
}

func (s *simulatedSender) Channel() models.Channel {
	return models.ChannelSMS
}

func (s *simulatedSender) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("phone number is required")
	}
	s.log.WithFields(logrus.Fields{
		"phone":   to,
		"subject": subject,
		"length":  len(smsText(subject, body)),
	}).Info("SMS simulated")
	return nil
}

func smsText(subject, body string) string {
	if subject == "" {
		return body
	}
	return subject + "\n" + body
}
