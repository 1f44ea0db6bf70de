package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/logger"
	"sgpj-legal/internal/metrics"
	"sgpj-legal/internal/notify"
	"sgpj-legal/pkg/models"
)

type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateDisabled State = "disabled"
)

// Observer is told about every notification created and every finished cycle.
// Calls are synchronous and must not block.
type Observer interface {
	NotificationCreated(n models.Notification)
	CycleCompleted(r Report)
}

type Scheduler struct {
	opts       Options
	db         *database.DB
	dispatcher *notify.Dispatcher
	log        *logger.Logger
	metrics    *metrics.Metrics

	enabled atomic.Bool

	// runMu serialises cycles from the background loop and on-demand triggers.
	runMu sync.Mutex

	mu         sync.RWMutex
	state      State
	nextCheck  time.Time
	lastReport *Report
	observers  []Observer
}

// NewScheduler wires the scheduler. m may be nil.
func NewScheduler(db *database.DB, dispatcher *notify.Dispatcher, log *logger.Logger, m *metrics.Metrics, opts Options) *Scheduler {
	opts = opts.withDefaults()
	s := &Scheduler{
		opts:       opts,
		db:         db,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
		state:      StateIdle,
	}
	s.enabled.Store(opts.Enabled)
	if !opts.Enabled {
		s.state = StateDisabled
	}
	return s
}

// Enabled reports whether cycles currently scan and notify.
func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

// SetEnabled switches automatic notifications on or off. The change applies
// from the next cycle; a cycle already scanning finishes normally.
func (s *Scheduler) SetEnabled(on bool) {
	s.enabled.Store(on)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !on && s.state == StateIdle:
		s.state = StateDisabled
	case on && s.state == StateDisabled:
		s.state = StateIdle
	}
}

func (s *Scheduler) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Name, Interval and Run make the scheduler a workers.Worker.
func (s *Scheduler) Name() string { return "notificaciones-automaticas" }

func (s *Scheduler) Interval() time.Duration { return s.opts.Interval }

// Run executes one scheduled cycle. Only a persistence failure is returned;
// everything else is in the logged report.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.nextCheck = s.opts.Now().Add(s.opts.Interval)
	s.mu.Unlock()

	_, err := s.RunCycle(ctx)
	return err
}

func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NextCheck returns the time of the next scheduled cycle, false before the
// first one has run.
func (s *Scheduler) NextCheck() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCheck, !s.nextCheck.IsZero()
}

// LastReport returns the report of the most recent cycle, if any.
func (s *Scheduler) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastReport == nil {
		return nil
	}
	r := *s.lastReport
	return &r
}

func (s *Scheduler) Options() Options {
	return s.opts
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RunCycle runs the hearing, step and stale-case scanners in that order on one
// persistence session. The error is non-nil only when the session cannot be
// acquired; scanner and delivery failures are collected in Report.Errors.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.opts.Now()
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Errors:    []string{},
	}
	log := s.log.WithRunID(report.RunID)

	if !s.Enabled() {
		s.setState(StateDisabled)
		report.Disabled = true
		report.FinishedAt = s.opts.Now()
		log.Info("automatic notifications disabled, skipping cycle")
		s.finish(report)
		return report, nil
	}

	s.setState(StateScanning)
	defer s.setState(StateIdle)

	sess, err := s.db.Session(ctx)
	if err != nil {
		report.FinishedAt = s.opts.Now()
		report.Errors = append(report.Errors, fmt.Sprintf("database: %v", err))
		log.WithError(err).Error("notification cycle aborted: database unavailable")
		if s.metrics != nil {
			s.metrics.CyclesTotal.WithLabelValues("error").Inc()
		}
		return report, fmt.Errorf("acquiring persistence session: %w", err)
	}
	defer sess.Close()

	c := &cycle{s: s, sess: sess, now: now, log: log, report: &report}

	hearings := c.scanHearings(ctx)
	report.HearingsNotified = hearings.notified
	c.collect("audiencias", hearings)

	steps := c.scanSteps(ctx)
	report.StepsNotified = steps.notified
	c.collect("diligencias", steps)

	cases := c.scanStaleCases(ctx)
	report.CasesNotified = cases.notified
	c.collect("procesos", cases)

	report.FinishedAt = s.opts.Now()

	log.WithFields(logrus.Fields{
		"hearings_notified":     report.HearingsNotified,
		"steps_notified":        report.StepsNotified,
		"cases_notified":        report.CasesNotified,
		"notifications_created": report.NotificationsCreated,
		"dedup_skipped":         report.DedupSkipped,
		"errors":                len(report.Errors),
		"duration":              report.Duration().String(),
	}).Info("notification cycle completed")
	for _, e := range report.Errors {
		log.Warn(e)
	}

	s.finish(report)
	return report, nil
}

func (s *Scheduler) finish(report Report) {
	s.mu.Lock()
	s.lastReport = &report
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CyclesTotal.WithLabelValues(report.Result()).Inc()
		if !report.Disabled {
			s.metrics.CycleDuration.Observe(report.Duration().Seconds())
		}
	}
	for _, o := range observers {
		o.CycleCompleted(report)
	}
}

func (s *Scheduler) notificationCreated(n models.Notification) {
	if s.metrics != nil {
		s.metrics.NotificationsTotal.WithLabelValues(string(n.Tipo), string(n.Canal), string(n.Estado)).Inc()
	}

	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.NotificationCreated(n)
	}
}
