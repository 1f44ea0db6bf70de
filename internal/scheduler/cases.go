package scheduler

import (
	"context"
	"fmt"
	"time"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/notify"
	"sgpj-legal/pkg/models"
)

// scanStaleCases reminds about active cases not updated for StaleAfterDays.
// The staleness threshold doubles as the duplicate window, so a case is
// reminded at most once per review period.
func (c *cycle) scanStaleCases(ctx context.Context) scanResult {
	var res scanResult
	o := c.s.opts

	cutoff := c.s.staleCutoff(c.now)
	log := c.log.WithField("cutoff", cutoff)

	cases, err := c.sess.StaleCases(ctx, cutoff, o.ActiveCaseStates)
	if err != nil {
		res.fail("procesos: %v", err)
		return res
	}

	for _, pc := range cases {
		clog := log.WithField("case_id", pc.ID)

		dup, err := c.seenRecently(ctx, database.DedupQuery{
			Entity:   models.EntityCase,
			EntityID: pc.ID,
			Type:     models.TypeCaseStale,
			Since:    cutoff,
		})
		if err != nil {
			res.fail("procesos: case %d: %v", pc.ID, err)
			continue
		}
		if dup {
			clog.Debug("case already has a recent review reminder")
			continue
		}

		days := 0
		if pc.UpdatedAt != nil {
			days = notify.DaysSince(*pc.UpdatedAt, c.now)
		}
		title, body := notify.StaleCaseMessage(pc, days)

		created := c.fanOut(ctx, entityLabel("proceso", pc.ID), o.CaseChannels, notify.Draft{
			Type:       models.TypeCaseStale,
			Title:      title,
			Body:       body,
			CaseID:     ptr(pc.ID),
			Expediente: pc.Expediente,
		}, &res)

		if created > 0 {
			res.notified++
			clog.WithField("days_since_update", days).Info("stale case reminder created")
		}
	}

	return res
}

func (s *Scheduler) staleCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(s.opts.StaleAfterDays) * 24 * time.Hour)
}

func entityLabel(kind string, id int64) string {
	return fmt.Sprintf("%s %d", kind, id)
}
