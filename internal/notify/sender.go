package notify

import (
	"context"
	"time"

	"sgpj-legal/pkg/models"
)

// Sender is the interface for external delivery channels (email, sms, push).
type Sender interface {
	// Channel returns the channel this sender serves.
	Channel() models.Channel

	// Send delivers one message to one destination. Implementations that have
	// no subject line fold it into the body.
	Send(ctx context.Context, to, subject, body string) error
}

// Store is the persistence the dispatcher needs. *database.Session satisfies it.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
}
