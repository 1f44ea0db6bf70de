package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/logger"
	"sgpj-legal/internal/metrics"
	"sgpj-legal/internal/notify"
	"sgpj-legal/internal/scheduler"
	"sgpj-legal/internal/testutil"
	"sgpj-legal/pkg/models"
)

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fakeHub struct{ n int }

func (f fakeHub) Clients() int { return f.n }

type fakeLogs []string

func (f fakeLogs) Entries() []string { return f }

type server struct {
	db      *database.DB
	sched   *scheduler.Scheduler
	handler http.Handler
}

func newServer(t *testing.T, enabled bool) *server {
	t.Helper()

	db := testutil.NewTestDB(t)
	nullLog, _ := test.NewNullLogger()
	clock := func() time.Time { return now }

	dispatcher := notify.NewDispatcher(nullLog, notify.DispatcherOptions{Now: clock})
	sched := scheduler.NewScheduler(db, dispatcher, logger.Discard(), nil, scheduler.Options{
		Enabled:            enabled,
		Interval:           time.Hour,
		HearingLeadHours:   []int{24},
		HearingMargin:      time.Hour,
		HearingDedupWindow: 2 * time.Hour,
		HearingChannels:    []models.Channel{models.ChannelSystem},
		StepLeadHours:      24,
		StepChannels:       []models.Channel{models.ChannelSystem},
		StaleAfterDays:     7,
		ActiveCaseStates:   []string{"Activo"},
		CaseChannels:       []models.Channel{models.ChannelSystem},
		DefaultEmail:       "estudio@example.com",
		Now:                clock,
	})

	reg := prometheus.NewRegistry()
	h := NewHandler(Deps{
		Scheduler: sched,
		DB:        db,
		Hub:       fakeHub{n: 3},
		Logs:      fakeLogs{"[10:00:00] INFO started"},
		Log:       nullLog,
		Channels:  []models.Channel{models.ChannelSystem},
	})
	return &server{
		db:      db,
		sched:   sched,
		handler: NewRouter(h, nullLog, RouterOptions{Metrics: metrics.NewMetrics(reg), Gatherer: reg}),
	}
}

func (s *server) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return s.send(t, httptest.NewRequest(method, path, nil))
}

func (s *server) send(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestCheckNow_RunsCycle(t *testing.T) {
	s := newServer(t, true)
	c := testutil.CreateCase(t, s.db, "Activo", now)
	testutil.CreateHearing(t, s.db, c.ID, now.Add(24*time.Hour), true)

	rec, body := s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	results := body["results"].(map[string]interface{})
	assert.Equal(t, 1.0, results["audiencias_notificadas"])
	assert.Equal(t, 0.0, results["diligencias_notificadas"])
	assert.Empty(t, results["errors"])

	_, again := s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	assert.Equal(t, 0.0, again["results"].(map[string]interface{})["audiencias_notificadas"])
}

func TestCheckNow_PersistenceFailureIsStill200(t *testing.T) {
	s := newServer(t, true)
	require.NoError(t, s.db.Close())

	rec, body := s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestCheckNow_SurvivesClientDisconnect(t *testing.T) {
	s := newServer(t, true)
	c := testutil.CreateCase(t, s.db, "Activo", now)
	testutil.CreateHearing(t, s.db, c.ID, now.Add(24*time.Hour), true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, AdminPrefix+"/check-now", nil).WithContext(ctx)

	rec, body := s.send(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rows := testutil.Notifications(t, s.db)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StateSent, rows[0].Estado)
}

type panickingObserver struct{}

func (panickingObserver) NotificationCreated(models.Notification) {}
func (panickingObserver) CycleCompleted(scheduler.Report)         { panic("observer exploded") }

func TestCheckNow_PanicIsReportedAsError(t *testing.T) {
	s := newServer(t, true)
	s.sched.AddObserver(panickingObserver{})

	rec, body := s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "observer exploded")

	_, again := s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	assert.Equal(t, "error", again["status"], "the scheduler stays usable after a panic")
}

func TestSetEnabled(t *testing.T) {
	s := newServer(t, true)
	c := testutil.CreateCase(t, s.db, "Activo", now)
	testutil.CreateHearing(t, s.db, c.ID, now.Add(24*time.Hour), true)

	put := func(body string) (*httptest.ResponseRecorder, map[string]interface{}) {
		return s.send(t, httptest.NewRequest(http.MethodPut, AdminPrefix+"/enabled", strings.NewReader(body)))
	}

	rec, body := put(`{"enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, "disabled", body["state"])

	_, check := s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	assert.Equal(t, "Notificaciones automáticas deshabilitadas", check["message"])
	assert.Empty(t, testutil.Notifications(t, s.db))

	_, body = put(`{"enabled": true}`)
	assert.Equal(t, "idle", body["state"])

	_, check = s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	assert.Equal(t, 1.0, check["results"].(map[string]interface{})["audiencias_notificadas"])

	rec, _ = put(`{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckNow_Disabled(t *testing.T) {
	s := newServer(t, false)

	_, body := s.do(t, http.MethodPost, AdminPrefix+"/check-now")
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Notificaciones automáticas deshabilitadas", body["message"])
	assert.Empty(t, testutil.Notifications(t, s.db))
}

func TestGetStatus(t *testing.T) {
	s := newServer(t, true)
	c := testutil.CreateCase(t, s.db, "Activo", now.Add(-10*24*time.Hour))
	testutil.CreateHearing(t, s.db, c.ID, now.Add(5*time.Hour), true)

	rec, body := s.do(t, http.MethodGet, AdminPrefix+"/status")
	require.Equal(t, http.StatusOK, rec.Code)

	pending := body["pending"].(map[string]interface{})
	assert.Equal(t, 1.0, pending["audiencias_proximas"])
	assert.Equal(t, 0.0, pending["diligencias_proximas"])
	assert.Equal(t, 1.0, pending["procesos_sin_revisar"])

	sched := body["scheduler"].(map[string]interface{})
	assert.Equal(t, true, sched["enabled"])
	assert.Equal(t, 60.0, sched["check_interval_minutes"])
	assert.Equal(t, "idle", sched["state"])
}

func TestRecentLogs(t *testing.T) {
	s := newServer(t, true)
	c := testutil.CreateCase(t, s.db, "Activo", now.Add(-10*24*time.Hour))
	testutil.CreateHearing(t, s.db, c.ID, now.Add(24*time.Hour), true)
	s.do(t, http.MethodPost, AdminPrefix+"/check-now")

	_, all := s.do(t, http.MethodGet, AdminPrefix+"/logs/recent")
	assert.Equal(t, 2.0, all["count"])

	_, filtered := s.do(t, http.MethodGet, AdminPrefix+"/logs/recent?limit=10&type="+string(models.TypeCaseStale))
	assert.Equal(t, 1.0, filtered["count"])
	first := filtered["notificaciones"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, string(models.TypeCaseStale), first["tipo"])

	rec, _ := s.do(t, http.MethodGet, AdminPrefix+"/logs/recent?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpcomingStepsAndStepNotifications(t *testing.T) {
	s := newServer(t, true)
	step := testutil.CreateStep(t, s.db, nil, now.Add(24*time.Hour), models.StepPending, true)

	_, upcoming := s.do(t, http.MethodGet, AdminPrefix+"/diligencias/proximas")
	assert.Equal(t, 1.0, upcoming["total"])
	assert.Equal(t, "2026-03-11", upcoming["fecha_notificacion"])

	s.do(t, http.MethodPost, AdminPrefix+"/check-now")

	_, after := s.do(t, http.MethodGet, AdminPrefix+"/diligencias/proximas")
	assert.Equal(t, 0.0, after["total"])

	path := AdminPrefix + "/notificaciones/por-diligencia/" + strconv.FormatInt(step.ID, 10)
	_, forStep := s.do(t, http.MethodGet, path)
	assert.Equal(t, float64(step.ID), forStep["diligencia_id"])
	assert.Equal(t, 1.0, forStep["total"])

	rec, _ := s.do(t, http.MethodGet, AdminPrefix+"/notificaciones/por-diligencia/abc")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthStatsLogsAndMetrics(t *testing.T) {
	s := newServer(t, true)

	rec, health := s.do(t, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", health["status"])

	_, stats := s.do(t, http.MethodGet, "/api/stats")
	assert.Equal(t, 3.0, stats["active_clients"])
	assert.Equal(t, true, stats["db_status"])

	_, logs := s.do(t, http.MethodGet, "/api/logs")
	assert.Len(t, logs["logs"], 1)

	rec, _ = s.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestHealth_Unhealthy(t *testing.T) {
	s := newServer(t, true)
	require.NoError(t, s.db.Close())

	rec, body := s.do(t, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}
