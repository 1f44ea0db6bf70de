package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/notify"
	"sgpj-legal/pkg/models"
)

// attemptStates are the states that count as a prior attempt for the
// duplicate guard. Failed attempts are included so that a failed send is only
// retried once the recency window has passed.
var attemptStates = []models.NotificationState{
	models.StatePending,
	models.StateSent,
	models.StateError,
	models.StateRead,
}

// cycle carries the state of one RunCycle call.
type cycle struct {
	s      *Scheduler
	sess   *database.Session
	now    time.Time
	log    *logrus.Entry
	report *Report
}

func (c *cycle) collect(scanner string, r scanResult) {
	if len(r.errors) > 0 && c.s.metrics != nil {
		c.s.metrics.ScannerErrorsTotal.WithLabelValues(scanner).Add(float64(len(r.errors)))
	}
	c.report.Errors = append(c.report.Errors, r.errors...)
}

// seenRecently is the duplicate guard: a read-then-write check that is only
// safe because cycles never overlap.
func (c *cycle) seenRecently(ctx context.Context, q database.DedupQuery) (bool, error) {
	q.States = attemptStates
	dup, err := c.sess.HasRecentNotification(ctx, q)
	if err != nil {
		return false, err
	}
	if dup {
		c.report.DedupSkipped++
		if c.s.metrics != nil {
			c.s.metrics.DedupSkippedTotal.WithLabelValues(string(q.Type)).Inc()
		}
	}
	return dup, nil
}

// recipients expands a channel into its configured destinations.
func (c *cycle) recipients(ch models.Channel) []models.Recipient {
	o := c.s.opts
	var out []models.Recipient
	switch ch {
	case models.ChannelEmail:
		for _, e := range o.Emails {
			out = append(out, models.Recipient{Email: e})
		}
	case models.ChannelSMS:
		for _, p := range o.Phones {
			out = append(out, models.Recipient{Phone: p})
		}
	case models.ChannelPush:
		if o.PushTopic != "" {
			out = append(out, models.Recipient{Topic: o.PushTopic})
		}
	default:
		out = append(out, models.Recipient{Email: o.DefaultEmail})
	}
	return out
}

// fanOut creates one notification per channel and recipient. A failure for one
// recipient never stops the others. It returns the number of rows persisted.
func (c *cycle) fanOut(ctx context.Context, label string, chans []models.Channel, base notify.Draft, res *scanResult) int {
	created := 0
	for _, ch := range chans {
		rcpts := c.recipients(ch)
		if len(rcpts) == 0 {
			res.fail("%s -> %s: no recipients configured", label, ch)
			continue
		}

		for _, rcpt := range rcpts {
			draft := base
			draft.Channel = ch
			draft.Recipient = rcpt

			n, err := c.s.dispatcher.CreateAndSend(ctx, c.sess, draft)
			if n != nil {
				created++
				c.report.NotificationsCreated++
				c.s.notificationCreated(*n)
			}
			if err != nil {
				to := rcpt.Address(ch)
				if to == "" {
					to = string(ch)
				}
				res.fail("%s -> %s: %v", label, to, err)
			}
		}
	}
	return created
}

// localDay returns the bounds of the calendar day containing t in loc, as UTC.
func localDay(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func ptr[T any](v T) *T {
	return &v
}

func hoursLabel(h int) string {
	return fmt.Sprintf("%dh", h)
}
