package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sgpj-legal/internal/errs"
	"sgpj-legal/pkg/models"
)

const statusUpdateTimeout = 10 * time.Second

// Draft is everything needed to create one notification for one recipient.
type Draft struct {
	Type      models.NotificationType
	Channel   models.Channel
	Recipient models.Recipient
	Title     string
	Body      string

	HearingID  *int64
	StepID     *int64
	CaseID     *int64
	Expediente string
	LeadHours  *int
}

// DispatcherOptions configures the Dispatcher behavior.
type DispatcherOptions struct {
	RateLimitPerMinute int // 0 disables throttling
	Senders            []Sender
	Now                func() time.Time
}

// Dispatcher persists notifications and delivers them through the sender
// registered for their channel.
type Dispatcher struct {
	log     *logrus.Logger
	senders map[models.Channel]Sender
	limiter *rate.Limiter
	now     func() time.Time
}

func NewDispatcher(log *logrus.Logger, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		log:     log,
		senders: make(map[models.Channel]Sender, len(opts.Senders)),
		now:     opts.Now,
	}
	if d.now == nil {
		d.now = time.Now
	}
	for _, s := range opts.Senders {
		if s == nil {
			continue
		}
		d.senders[s.Channel()] = s
		log.WithField("channel", s.Channel()).Info("notification channel registered")
	}
	if opts.RateLimitPerMinute > 0 {
		d.limiter = rate.NewLimiter(
			rate.Limit(float64(opts.RateLimitPerMinute)/60.0),
			max(1, opts.RateLimitPerMinute/10),
		)
	}
	return d
}

// HasChannel reports whether a sender is registered for c. The system
// channel needs none.
func (d *Dispatcher) HasChannel(c models.Channel) bool {
	if c == models.ChannelSystem {
		return true
	}
	_, ok := d.senders[c]
	return ok
}

// CreateAndSend persists a PENDIENTE notification, attempts delivery once and
// records the outcome on the row. The notification is returned whenever it
// was persisted; the error is the delivery failure (already stored on the
// row) or a persistence failure.
func (d *Dispatcher) CreateAndSend(ctx context.Context, store Store, draft Draft) (*models.Notification, error) {
	n := d.build(draft)
	if err := store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("persisting notification: %w", err)
	}

	entry := d.log.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"type":            n.Tipo,
		"channel":         n.Canal,
	})

	sendErr := d.deliver(ctx, draft)
	at := d.now()

	// The outcome is recorded even when ctx ended during delivery.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()

	if sendErr == nil {
		if err := store.MarkSent(recordCtx, n.ID, at); err != nil {
			return n, fmt.Errorf("marking notification %d sent: %w", n.ID, err)
		}
		n.Estado = models.StateSent
		n.FechaEnvio = &at
		n.UpdatedAt = at
		entry.Info("notification sent")
		return n, nil
	}

	reason := sendErr.Error()
	if err := store.MarkFailed(recordCtx, n.ID, reason, at); err != nil {
		return n, errors.Join(sendErr, fmt.Errorf("marking notification %d failed: %w", n.ID, err))
	}
	n.Estado = models.StateError
	n.ErrorMensaje = &reason
	n.UpdatedAt = at
	entry.WithError(sendErr).Warn("notification delivery failed")
	return n, sendErr
}

func (d *Dispatcher) build(draft Draft) *models.Notification {
	now := d.now()
	n := &models.Notification{
		AudienciaID:       draft.HearingID,
		DiligenciaID:      draft.StepID,
		ProcesoID:         draft.CaseID,
		Tipo:              draft.Type,
		Canal:             draft.Channel,
		Titulo:            draft.Title,
		Mensaje:           draft.Body,
		AnticipacionHoras: draft.LeadHours,
		Estado:            models.StatePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if to := draft.Recipient.Address(draft.Channel); to != "" {
		n.Destinatario = &to
	}
	if draft.Recipient.Email != "" {
		email := draft.Recipient.Email
		n.EmailDestinatario = &email
	}
	if draft.Recipient.Phone != "" {
		phone := draft.Recipient.Phone
		n.TelefonoDestinatario = &phone
	}
	if draft.Expediente != "" {
		exp := draft.Expediente
		n.Expediente = &exp
	}
	return n
}

func (d *Dispatcher) deliver(ctx context.Context, draft Draft) error {
	if !models.KnownChannel(draft.Channel) {
		return fmt.Errorf("%w: %q", errs.ErrUnknownChannel, draft.Channel)
	}
	if draft.Channel == models.ChannelSystem {
		return nil
	}

	sender, ok := d.senders[draft.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrChannelDisabled, draft.Channel)
	}

	to := draft.Recipient.Address(draft.Channel)
	if to == "" {
		return fmt.Errorf("%w for %s", errs.ErrNoRecipient, draft.Channel)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for send slot: %w", err)
		}
	}

	return sender.Send(ctx, to, draft.Title, draft.Body)
}
