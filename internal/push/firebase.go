package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"sgpj-legal/pkg/models"
)

// messenger is the part of *messaging.Client the service uses.
type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FirebaseService struct {
	client messenger
	log    *logrus.Logger
	now    func() time.Time
}

// NewFirebaseService initializes the Firebase app and its FCM client.
func NewFirebaseService(ctx context.Context, credentialsPath string, log *logrus.Logger) (*FirebaseService, error) {
	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}

	log.Info("Firebase messaging initialized")

	return &FirebaseService{client: client, log: log, now: time.Now}, nil
}

func (s *FirebaseService) Channel() models.Channel {
	return models.ChannelPush
}

// Send publishes a reminder to an FCM topic.
func (s *FirebaseService) Send(ctx context.Context, topic, subject, body string) error {
	if topic == "" {
		return fmt.Errorf("push topic is empty")
	}

	response, err := s.client.Send(ctx, BuildReminder(topic, subject, body, s.now()))
	if err != nil {
		return fmt.Errorf("error sending reminder push: %w", err)
	}

	s.log.WithFields(logrus.Fields{"topic": topic, "message_id": response}).Debug("push reminder sent")
	return nil
}

// BuildReminder assembles the FCM message for a reminder. Bodies longer than
// a notification tray line are cut; the full text travels in Data.
func BuildReminder(topic, subject, body string, at time.Time) *messaging.Message {
	short := body
	if i := strings.IndexByte(short, '\n'); i >= 0 {
		short = short[:i]
	}

	return &messaging.Message{
		Topic: strings.TrimPrefix(topic, "/topics/"),
		Notification: &messaging.Notification{
			Title: subject,
			Body:  short,
		},
		Data: map[string]string{
			"type":      "recordatorio",
			"body":      body,
			"timestamp": fmt.Sprintf("%d", at.Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "sgpj_recordatorios",
				DefaultSound: true,
			},
		},
	}
}
