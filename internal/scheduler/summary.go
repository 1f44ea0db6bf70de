package scheduler

import (
	"context"
	"fmt"
	"time"

	"sgpj-legal/pkg/models"
)

// Summary is the read-only view of what the next cycles will pick up.
type Summary struct {
	HearingsPending int        `json:"hearings_pending"`
	StepsPending    int        `json:"steps_pending"`
	CasesPending    int        `json:"cases_pending"`
	NextCheck       *time.Time `json:"next_check"`

	State           State   `json:"state"`
	Enabled         bool    `json:"enabled"`
	IntervalMinutes int     `json:"check_interval_minutes"`
	LeadHours       []int   `json:"audiencia_notification_hours"`
	LastReport      *Report `json:"last_report,omitempty"`
}

// PendingSummary counts upcoming hearings, steps awaiting their reminder and
// stale cases. It has no side effects.
func (s *Scheduler) PendingSummary(ctx context.Context) (Summary, error) {
	now := s.opts.Now()
	sum := Summary{
		State:           s.State(),
		Enabled:         s.Enabled(),
		IntervalMinutes: int(s.opts.Interval / time.Minute),
		LeadHours:       s.opts.HearingLeadHours,
		LastReport:      s.LastReport(),
	}
	if next, ok := s.NextCheck(); ok {
		sum.NextCheck = &next
	}

	sess, err := s.db.Session(ctx)
	if err != nil {
		return sum, fmt.Errorf("acquiring persistence session: %w", err)
	}
	defer sess.Close()

	maxLead := 0
	for _, h := range s.opts.HearingLeadHours {
		maxLead = max(maxLead, h)
	}
	horizon := now.Add(time.Duration(maxLead)*time.Hour + s.opts.HearingMargin)
	if sum.HearingsPending, err = sess.CountHearingsBetween(ctx, now, horizon); err != nil {
		return sum, err
	}

	dayStart, dayEnd := s.stepDay(now)
	if sum.StepsPending, err = sess.CountStepsDueBetween(ctx, dayStart, dayEnd, s.opts.StepStates); err != nil {
		return sum, err
	}

	if sum.CasesPending, err = sess.CountStaleCases(ctx, s.staleCutoff(now), s.opts.ActiveCaseStates); err != nil {
		return sum, err
	}

	return sum, nil
}

// UpcomingSteps lists the steps the next cycle would remind about, along with
// the local day they fall on.
func (s *Scheduler) UpcomingSteps(ctx context.Context) ([]models.ProceduralStep, time.Time, error) {
	dayStart, dayEnd := s.stepDay(s.opts.Now())

	sess, err := s.db.Session(ctx)
	if err != nil {
		return nil, dayStart, fmt.Errorf("acquiring persistence session: %w", err)
	}
	defer sess.Close()

	steps, err := sess.StepsDueBetween(ctx, dayStart, dayEnd, s.opts.StepStates)
	if err != nil {
		return nil, dayStart, err
	}
	if steps == nil {
		steps = []models.ProceduralStep{}
	}
	return steps, dayStart.In(s.opts.Location), nil
}
