package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/notify"
	"sgpj-legal/pkg/models"
)

// scanHearings notifies hearings falling within the margin around now+lead
// for each configured lead time. Lead times are independent: the duplicate
// guard only matches prior notifications for the same lead.
func (c *cycle) scanHearings(ctx context.Context) scanResult {
	var res scanResult
	o := c.s.opts

	for _, lead := range o.HearingLeadHours {
		target := c.now.Add(time.Duration(lead) * time.Hour)
		from, to := target.Add(-o.HearingMargin), target.Add(o.HearingMargin)

		log := c.log.WithField("lead_hours", lead)
		log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("scanning hearings")

		hearings, err := c.sess.HearingsBetween(ctx, from, to)
		if err != nil {
			res.fail("audiencias %s: %v", hoursLabel(lead), err)
			continue
		}

		for _, h := range hearings {
			hlog := log.WithField("hearing_id", h.ID)

			dup, err := c.seenRecently(ctx, database.DedupQuery{
				Entity:    models.EntityHearing,
				EntityID:  h.ID,
				Type:      models.TypeHearingReminder,
				Since:     c.now.Add(-o.HearingDedupWindow),
				LeadHours: ptr(lead),
			})
			if err != nil {
				res.fail("audiencias: hearing %d: %v", h.ID, err)
				continue
			}
			if dup {
				hlog.Debug("hearing already has a recent reminder")
				continue
			}

			title, body := notify.HearingMessage(h, lead, o.Location)
			created := c.fanOut(ctx, entityLabel("audiencia", h.ID), o.HearingChannels, notify.Draft{
				Type:       models.TypeHearingReminder,
				Title:      title,
				Body:       body,
				HearingID:  ptr(h.ID),
				CaseID:     ptr(h.ProcesoID),
				Expediente: h.Expediente,
				LeadHours:  ptr(lead),
			}, &res)

			if created > 0 {
				res.notified++
				hlog.WithField("notifications", created).Info("hearing reminder created")
			}
		}
	}

	return res
}
