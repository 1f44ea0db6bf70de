package scheduler

import (
	"context"
	"time"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/notify"
	"sgpj-legal/pkg/models"
)

// scanSteps sends the one-shot reminder for steps dated on the local day of
// now+lead. The latch is set once delivery was attempted, whatever its
// outcome, so a step is never reminded twice.
func (c *cycle) scanSteps(ctx context.Context) scanResult {
	var res scanResult
	o := c.s.opts

	dayStart, dayEnd := c.s.stepDay(c.now)
	log := c.log.WithField("lead_hours", o.StepLeadHours)

	steps, err := c.sess.StepsDueBetween(ctx, dayStart, dayEnd, o.StepStates)
	if err != nil {
		res.fail("diligencias: %v", err)
		return res
	}

	for _, d := range steps {
		dlog := log.WithField("step_id", d.ID)
		label := entityLabel("diligencia", d.ID)

		dup, err := c.seenRecently(ctx, database.DedupQuery{
			Entity:   models.EntityStep,
			EntityID: d.ID,
			Type:     models.TypeStepReminder,
		})
		if err != nil {
			res.fail("diligencias: step %d: %v", d.ID, err)
			continue
		}
		if dup {
			// Reminder recorded before the latch existed; catch the latch up.
			dlog.Debug("step already has a reminder")
			if err := c.sess.Latch(ctx, models.EntityStep, d.ID, models.TypeStepReminder, c.now); err != nil {
				res.fail("%s: %v", label, err)
			}
			continue
		}

		title, body := notify.StepMessage(d, o.Location)
		draft := notify.Draft{
			Type:      models.TypeStepReminder,
			Title:     title,
			Body:      body,
			StepID:    ptr(d.ID),
			CaseID:    d.ProcesoID,
			LeadHours: ptr(o.StepLeadHours),
		}
		if d.Expediente != nil {
			draft.Expediente = *d.Expediente
		}

		created := c.fanOut(ctx, label, o.StepChannels, draft, &res)
		if created == 0 {
			// Nothing was persisted; leave the step for the next cycle.
			continue
		}

		if err := c.sess.Latch(ctx, models.EntityStep, d.ID, models.TypeStepReminder, c.now); err != nil {
			res.fail("%s: %v", label, err)
		}
		res.notified++
		dlog.WithField("notifications", created).Info("step reminder created")
	}

	return res
}

// stepDay is the local calendar day targeted by the step scanner at now.
func (s *Scheduler) stepDay(now time.Time) (time.Time, time.Time) {
	return localDay(now.Add(time.Duration(s.opts.StepLeadHours)*time.Hour), s.opts.Location)
}
