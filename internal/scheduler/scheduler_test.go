package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/logger"
	"sgpj-legal/internal/metrics"
	"sgpj-legal/internal/notify"
	"sgpj-legal/internal/testutil"
	"sgpj-legal/pkg/models"
)

// 10:00 in Lima.
var start = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSender struct {
	mu      sync.Mutex
	channel models.Channel
	failFor map[string]error
	sent    []string
}

func (f *fakeSender) Channel() models.Channel { return f.channel }

func (f *fakeSender) Send(_ context.Context, to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[to]; err != nil {
		return err
	}
	f.sent = append(f.sent, to)
	return nil
}

type recordingObserver struct {
	mu            sync.Mutex
	notifications []models.Notification
	reports       []Report
}

func (r *recordingObserver) NotificationCreated(n models.Notification) {
	r.mu.Lock()
	r.notifications = append(r.notifications, n)
	r.mu.Unlock()
}

func (r *recordingObserver) CycleCompleted(rep Report) {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
}

type harness struct {
	db      *database.DB
	clock   *clock
	email   *fakeSender
	sched   *Scheduler
	metrics *metrics.Metrics
}

func lima(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Lima")
	require.NoError(t, err)
	return loc
}

func baseOptions(t *testing.T) Options {
	return Options{
		Enabled:            true,
		Interval:           time.Hour,
		HearingLeadHours:   []int{24},
		HearingMargin:      time.Hour,
		HearingDedupWindow: 2 * time.Hour,
		HearingChannels:    []models.Channel{models.ChannelEmail},
		StepLeadHours:      24,
		StepChannels:       []models.Channel{models.ChannelEmail},
		StaleAfterDays:     7,
		ActiveCaseStates:   []string{"Activo", "En trámite"},
		CaseChannels:       []models.Channel{models.ChannelEmail},
		Emails:             []string{"a@example.com"},
		DefaultEmail:       "a@example.com",
		Location:           lima(t),
	}
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		db:      testutil.NewTestDB(t),
		clock:   &clock{t: start},
		email:   &fakeSender{channel: models.ChannelEmail, failFor: map[string]error{}},
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}

	opts := baseOptions(t)
	opts.Now = h.clock.Now
	if mutate != nil {
		mutate(&opts)
	}

	nullLog, _ := test.NewNullLogger()
	dispatcher := notify.NewDispatcher(nullLog, notify.DispatcherOptions{
		Senders: []notify.Sender{h.email},
		Now:     h.clock.Now,
	})
	h.sched = NewScheduler(h.db, dispatcher, logger.Discard(), h.metrics, opts)
	return h
}

func (h *harness) run(t *testing.T) Report {
	t.Helper()
	report, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	return report
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// freshCase is an active case that is not stale.
func (h *harness) freshCase(t *testing.T) models.Case {
	return testutil.CreateCase(t, h.db, "Activo", start)
}

func TestRunCycle_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	c := h.freshCase(t)
	hearing := testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

	report := h.run(t)
	assert.Equal(t, 1, report.HearingsNotified)
	assert.Equal(t, 0, report.StepsNotified)
	assert.Equal(t, 0, report.CasesNotified)
	assert.Empty(t, report.Errors)
	assert.NotEmpty(t, report.RunID)

	rows := testutil.Notifications(t, h.db)
	require.Len(t, rows, 1)
	n := rows[0]
	assert.Equal(t, models.TypeHearingReminder, n.Tipo)
	assert.Contains(t, []models.NotificationState{models.StateSent, models.StateError}, n.Estado)
	require.NotNil(t, n.AudienciaID)
	assert.Equal(t, hearing.ID, *n.AudienciaID)
	require.NotNil(t, n.AnticipacionHoras)
	assert.Equal(t, 24, *n.AnticipacionHoras)
	assert.Equal(t, "Recordatorio: Audiencia en 24h", n.Titulo)

	again := h.run(t)
	assert.Equal(t, 0, again.HearingsNotified)
	assert.Equal(t, 1, again.DedupSkipped)
	assert.Len(t, testutil.Notifications(t, h.db), 1)
}

func TestRunCycle_HearingIdempotentWithinWindow(t *testing.T) {
	h := newHarness(t, nil)
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour+30*time.Minute), true)

	h.run(t)
	h.clock.Advance(45 * time.Minute)
	h.run(t)

	assert.Len(t, testutil.Notifications(t, h.db), 1)
}

func TestRunCycle_HearingIdempotentWhenMarginExceedsDedupWindow(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.HearingMargin = 90 * time.Minute
		o.HearingDedupWindow = 2 * time.Hour
	})
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(25*time.Hour), true)

	h.run(t)
	h.clock.Advance(150 * time.Minute)
	h.run(t)

	assert.Len(t, testutil.Notifications(t, h.db), 1)
	assert.Equal(t, 3*time.Hour, h.sched.Options().HearingDedupWindow)
}

func TestRunCycle_HearingWindowBounds(t *testing.T) {
	h := newHarness(t, nil)
	c := h.freshCase(t)
	inside := testutil.CreateHearing(t, h.db, c.ID, start.Add(25*time.Hour), true)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(25*time.Hour+time.Second), true)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), false)

	report := h.run(t)
	assert.Equal(t, 1, report.HearingsNotified)

	rows := testutil.Notifications(t, h.db)
	require.Len(t, rows, 1)
	assert.Equal(t, inside.ID, *rows[0].AudienciaID)
}

func TestRunCycle_MultiLeadIndependence(t *testing.T) {
	t.Run("AcrossCycles", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.HearingLeadHours = []int{24, 12} })
		c := h.freshCase(t)
		testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

		first := h.run(t)
		assert.Equal(t, 1, first.HearingsNotified)

		h.clock.Advance(12 * time.Hour)
		second := h.run(t)
		assert.Equal(t, 1, second.HearingsNotified)

		rows := testutil.Notifications(t, h.db)
		require.Len(t, rows, 2)
		leads := []int{*rows[0].AnticipacionHoras, *rows[1].AnticipacionHoras}
		assert.ElementsMatch(t, []int{24, 12}, leads)
	})

	t.Run("SameCycle", func(t *testing.T) {
		h := newHarness(t, func(o *Options) { o.HearingLeadHours = []int{24, 23} })
		c := h.freshCase(t)
		testutil.CreateHearing(t, h.db, c.ID, start.Add(23*time.Hour+30*time.Minute), true)

		report := h.run(t)
		assert.Equal(t, 2, report.HearingsNotified)
		assert.Len(t, testutil.Notifications(t, h.db), 2)

		h.clock.Advance(10 * time.Minute)
		h.run(t)
		assert.Len(t, testutil.Notifications(t, h.db), 2)
	})
}

func TestRunCycle_StepLatch(t *testing.T) {
	h := newHarness(t, nil)
	c := h.freshCase(t)
	loc := lima(t)

	// Tomorrow in Lima is 2026-03-11.
	due := testutil.CreateStep(t, h.db, &c.ID, time.Date(2026, 3, 11, 18, 0, 0, 0, loc), models.StepPending, true)
	inProgress := testutil.CreateStep(t, h.db, nil, time.Date(2026, 3, 11, 0, 0, 0, 0, loc), models.StepInProgress, true)
	testutil.CreateStep(t, h.db, &c.ID, time.Date(2026, 3, 12, 0, 0, 0, 0, loc), models.StepPending, true)
	testutil.CreateStep(t, h.db, &c.ID, time.Date(2026, 3, 11, 9, 0, 0, 0, loc), models.StepCompleted, true)
	testutil.CreateStep(t, h.db, &c.ID, time.Date(2026, 3, 11, 9, 0, 0, 0, loc), models.StepPending, false)

	report := h.run(t)
	assert.Equal(t, 2, report.StepsNotified)

	sess, err := h.db.Session(context.Background())
	require.NoError(t, err)
	for _, id := range []int64{due.ID, inProgress.ID} {
		step, err := sess.GetStep(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, step.NotificacionEnviada, "step %d latched", id)
	}
	sess.Close()

	h.clock.Advance(time.Hour)
	again := h.run(t)
	assert.Equal(t, 0, again.StepsNotified)
	assert.Len(t, testutil.Notifications(t, h.db), 2)
}

func TestRunCycle_StepLatchedEvenWhenSendFails(t *testing.T) {
	h := newHarness(t, nil)
	h.email.failFor["a@example.com"] = errors.New("smtp: 535 authentication failed")
	step := testutil.CreateStep(t, h.db, nil, start.Add(24*time.Hour), models.StepPending, true)

	report := h.run(t)
	assert.Equal(t, 1, report.StepsNotified)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "diligencia")
	assert.Contains(t, report.Errors[0], "a@example.com")

	rows := testutil.Notifications(t, h.db)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StateError, rows[0].Estado)
	assert.Equal(t, step.ID, *rows[0].DiligenciaID)

	delete(h.email.failFor, "a@example.com")
	h.clock.Advance(time.Hour)
	h.run(t)
	assert.Len(t, testutil.Notifications(t, h.db), 1, "steps are never retried")
}

func TestRunCycle_StalenessBoundary(t *testing.T) {
	h := newHarness(t, nil)
	threshold := 7 * 24 * time.Hour

	exactly := testutil.CreateCase(t, h.db, "Activo", start.Add(-threshold))
	stale := testutil.CreateCase(t, h.db, "En trámite", start.Add(-threshold-time.Second))
	testutil.CreateCase(t, h.db, "Archivado", start.Add(-90*24*time.Hour))

	report := h.run(t)
	assert.Equal(t, 1, report.CasesNotified)

	rows := testutil.Notifications(t, h.db)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TypeCaseStale, rows[0].Tipo)
	assert.Equal(t, stale.ID, *rows[0].ProcesoID)
	assert.NotEqual(t, exactly.ID, *rows[0].ProcesoID)
	assert.Contains(t, rows[0].Mensaje, "lleva 7 días sin actualizaciones")
}

func TestRunCycle_StaleCaseOncePerReviewPeriod(t *testing.T) {
	h := newHarness(t, nil)
	testutil.CreateCase(t, h.db, "Activo", start.Add(-10*24*time.Hour))

	h.run(t)
	h.clock.Advance(24 * time.Hour)
	h.run(t)
	assert.Len(t, testutil.Notifications(t, h.db), 1)

	h.clock.Advance(7 * 24 * time.Hour)
	report := h.run(t)
	assert.Equal(t, 1, report.CasesNotified)
	assert.Len(t, testutil.Notifications(t, h.db), 2)
}

func TestRunCycle_FailureIsolation(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Emails = []string{"a@example.com", "b@example.com", "c@example.com"}
	})
	h.email.failFor["a@example.com"] = errors.New("mailbox unavailable")
	c := h.freshCase(t)
	first := testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour+10*time.Minute), true)

	report := h.run(t)
	assert.Equal(t, 2, report.HearingsNotified)
	assert.Equal(t, 6, report.NotificationsCreated)
	assert.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors, "audiencia "+itoa(first.ID)+" -> a@example.com: mailbox unavailable")

	assert.ElementsMatch(t,
		[]string{"b@example.com", "c@example.com", "b@example.com", "c@example.com"}, h.email.sent)

	states := map[string][]models.NotificationState{}
	for _, n := range testutil.Notifications(t, h.db) {
		states[*n.Destinatario] = append(states[*n.Destinatario], n.Estado)
	}
	assert.Equal(t, []models.NotificationState{models.StateError, models.StateError}, states["a@example.com"])
	assert.Equal(t, []models.NotificationState{models.StateSent, models.StateSent}, states["b@example.com"])
}

func TestRunCycle_FailedSendNotRetriedWithinWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.email.failFor["a@example.com"] = errors.New("timeout")
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

	h.run(t)
	delete(h.email.failFor, "a@example.com")
	h.clock.Advance(30 * time.Minute)
	h.run(t)

	rows := testutil.Notifications(t, h.db)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StateError, rows[0].Estado)
	assert.Equal(t, "timeout", *rows[0].ErrorMensaje)
}

func TestRunCycle_Disabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Enabled = false })
	c := testutil.CreateCase(t, h.db, "Activo", start.Add(-30*24*time.Hour))
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

	report := h.run(t)
	assert.True(t, report.Disabled)
	assert.Zero(t, report.HearingsNotified)
	assert.Zero(t, report.StepsNotified)
	assert.Zero(t, report.CasesNotified)
	assert.Empty(t, report.Errors)
	assert.Empty(t, testutil.Notifications(t, h.db))
	assert.Equal(t, StateDisabled, h.sched.State())
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.CyclesTotal.WithLabelValues("disabled")))
}

func TestScheduler_SetEnabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Enabled = false })
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

	assert.True(t, h.run(t).Disabled)
	assert.Equal(t, StateDisabled, h.sched.State())

	h.sched.SetEnabled(true)
	assert.True(t, h.sched.Enabled())
	assert.Equal(t, StateIdle, h.sched.State())

	report := h.run(t)
	assert.False(t, report.Disabled)
	assert.Equal(t, 1, report.HearingsNotified)
	assert.Equal(t, StateIdle, h.sched.State())

	h.sched.SetEnabled(false)
	assert.Equal(t, StateDisabled, h.sched.State())
	assert.True(t, h.run(t).Disabled)
	assert.Len(t, testutil.Notifications(t, h.db), 1)
}

func TestRunCycle_ScannerFailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, nil)
	testutil.CreateCase(t, h.db, "Activo", start.Add(-10*24*time.Hour))

	_, err := h.db.GetConnection().Exec("ALTER TABLE audiencias RENAME COLUMN fecha_hora TO fecha")
	require.NoError(t, err)

	report := h.run(t)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "audiencias 24h:")
	assert.Equal(t, 1, report.CasesNotified)
	assert.Equal(t, "partial", report.Result())
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.ScannerErrorsTotal.WithLabelValues("audiencias")))
}

func TestRunCycle_PersistenceUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.db.Close())

	report, err := h.sched.RunCycle(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.NotEmpty(t, report.Errors)
	assert.Equal(t, StateIdle, h.sched.State())

	assert.Error(t, h.sched.Run(context.Background()), "the worker surfaces the failure to its manager")
}

func TestRunCycle_FanOutAcrossChannels(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.HearingChannels = []models.Channel{models.ChannelEmail, models.ChannelSystem, models.ChannelSMS}
		o.Emails = []string{"a@example.com", "b@example.com"}
		o.Phones = []string{"+51999888777"}
	})
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

	report := h.run(t)
	assert.Equal(t, 4, report.NotificationsCreated)
	require.Len(t, report.Errors, 1, "sms has no registered sender")
	assert.Contains(t, report.Errors[0], "+51999888777")

	byChannel := map[models.Channel]int{}
	for _, n := range testutil.Notifications(t, h.db) {
		byChannel[n.Canal]++
	}
	assert.Equal(t, map[models.Channel]int{models.ChannelEmail: 2, models.ChannelSystem: 1, models.ChannelSMS: 1}, byChannel)
}

func TestRunCycle_ConcurrentTriggersAreSerialised(t *testing.T) {
	h := newHarness(t, nil)
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.sched.RunCycle(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, testutil.Notifications(t, h.db), 1)
}

func TestScheduler_ObserversAndState(t *testing.T) {
	h := newHarness(t, nil)
	obs := &recordingObserver{}
	h.sched.AddObserver(obs)
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)

	_, ok := h.sched.NextCheck()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, h.sched.State())

	require.NoError(t, h.sched.Run(context.Background()))

	next, ok := h.sched.NextCheck()
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Hour), next)
	assert.Equal(t, StateIdle, h.sched.State())

	require.Len(t, obs.notifications, 1)
	assert.Equal(t, models.StateSent, obs.notifications[0].Estado)
	require.Len(t, obs.reports, 1)
	assert.Equal(t, 1, obs.reports[0].HearingsNotified)

	last := h.sched.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, obs.reports[0].RunID, last.RunID)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.NotificationsTotal.WithLabelValues(
		string(models.TypeHearingReminder), string(models.ChannelEmail), string(models.StateSent))))
}

func TestPendingSummary(t *testing.T) {
	h := newHarness(t, nil)
	c := h.freshCase(t)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(3*time.Hour), true)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(24*time.Hour), true)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(48*time.Hour), true)
	testutil.CreateHearing(t, h.db, c.ID, start.Add(-time.Hour), true)
	testutil.CreateStep(t, h.db, nil, start.Add(24*time.Hour), models.StepPending, true)
	testutil.CreateCase(t, h.db, "Activo", start.Add(-8*24*time.Hour))

	sum, err := h.sched.PendingSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.HearingsPending)
	assert.Equal(t, 1, sum.StepsPending)
	assert.Equal(t, 1, sum.CasesPending)
	assert.Nil(t, sum.NextCheck)
	assert.True(t, sum.Enabled)
	assert.Equal(t, 60, sum.IntervalMinutes)

	assert.Empty(t, testutil.Notifications(t, h.db), "summary has no side effects")
}

func TestUpcomingSteps(t *testing.T) {
	h := newHarness(t, nil)
	step := testutil.CreateStep(t, h.db, nil, start.Add(26*time.Hour), models.StepPending, true)

	steps, day, err := h.sched.UpcomingSteps(context.Background())
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, step.ID, steps[0].ID)
	assert.Equal(t, "2026-03-11", day.Format("2006-01-02"))

	h.run(t)
	steps, _, err = h.sched.UpcomingSteps(context.Background())
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestLocalDay(t *testing.T) {
	loc := lima(t)
	from, to := localDay(time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), loc)

	// 03:00 UTC on the 11th is still the 10th in Lima.
	assert.Equal(t, time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 11, 5, 0, 0, 0, time.UTC), to)
}
