package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/database"
	"sgpj-legal/internal/scheduler"
	"sgpj-legal/pkg/models"
)

const maxRecentLimit = 500

// ClientCounter reports live websocket clients.
type ClientCounter interface {
	Clients() int
}

// LogSource exposes buffered log lines.
type LogSource interface {
	Entries() []string
}

// Handler serves the admin and service endpoints.
type Handler struct {
	sched     *scheduler.Scheduler
	db        *database.DB
	hub       ClientCounter
	logs      LogSource
	log       *logrus.Logger
	channels  []models.Channel
	startTime time.Time
}

type Deps struct {
	Scheduler *scheduler.Scheduler
	DB        *database.DB
	Hub       ClientCounter
	Logs      LogSource
	Log       *logrus.Logger
	// Channels lists the delivery channels with a registered sender.
	Channels []models.Channel
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		sched:     d.Scheduler,
		db:        d.DB,
		hub:       d.Hub,
		logs:      d.Logs,
		log:       d.Log,
		channels:  d.Channels,
		startTime: time.Now(),
	}
}

// GetStatus returns the pending summary and scheduler state.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sched.PendingSummary(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to build pending summary")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": h.now(),
		"pending": map[string]interface{}{
			"audiencias_proximas":  sum.HearingsPending,
			"diligencias_proximas": sum.StepsPending,
			"procesos_sin_revisar": sum.CasesPending,
			"next_check":           sum.NextCheck,
		},
		"scheduler": map[string]interface{}{
			"enabled":                      sum.Enabled,
			"state":                        sum.State,
			"check_interval_minutes":       sum.IntervalMinutes,
			"audiencia_notification_hours": sum.LeadHours,
			"next_check":                   sum.NextCheck,
			"last_report":                  sum.LastReport,
		},
	})
}

// CheckNow runs one cycle synchronously. The response is always 200; a
// persistence failure is reported as status "error".
func (h *Handler) CheckNow(w http.ResponseWriter, r *http.Request) {
	// A disconnecting client must not cut the cycle short: every attempt it
	// started still has to reach ENVIADO or ERROR.
	report, err := h.runCycle(context.WithoutCancel(r.Context()))

	body := map[string]interface{}{
		"status":  "ok",
		"message": "Verificación completada",
		"results": map[string]interface{}{
			"audiencias_notificadas":  report.HearingsNotified,
			"diligencias_notificadas": report.StepsNotified,
			"procesos_notificados":    report.CasesNotified,
			"notificaciones_creadas":  report.NotificationsCreated,
			"duplicados_omitidos":     report.DedupSkipped,
			"errors":                  report.Errors,
		},
		"run_id":    report.RunID,
		"timestamp": h.now(),
	}
	if report.Disabled {
		body["message"] = "Notificaciones automáticas deshabilitadas"
	}
	if err != nil {
		h.log.WithError(err).Error("on-demand notification check failed")
		body["status"] = "error"
		body["message"] = err.Error()
	}

	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) runCycle(ctx context.Context) (report scheduler.Report, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("notification cycle panicked: %v", rec)
			report.Errors = append(report.Errors, err.Error())
		}
	}()
	return h.sched.RunCycle(ctx)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetEnabled turns automatic notifications on or off until the next restart.
func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	h.sched.SetEnabled(*req.Enabled)
	h.log.WithField("enabled", *req.Enabled).Info("automatic notifications toggled")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"enabled": h.sched.Enabled(),
		"state":   h.sched.State(),
	})
}

// RecentLogs lists the newest notifications, optionally filtered by type.
func (h *Handler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	tipo := r.URL.Query().Get("type")
	if tipo == "" {
		tipo = r.URL.Query().Get("type_filter")
	}

	var notifications []models.Notification
	err := h.withSession(r.Context(), func(s *database.Session) error {
		var err error
		notifications, err = s.RecentNotifications(r.Context(), limit, models.NotificationType(tipo))
		return err
	})
	if err != nil {
		h.log.WithError(err).Error("failed to list recent notifications")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":          len(notifications),
		"notificaciones": notifications,
	})
}

// UpcomingSteps lists the steps the next cycle would remind about.
func (h *Handler) UpcomingSteps(w http.ResponseWriter, r *http.Request) {
	steps, day, err := h.sched.UpcomingSteps(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to list upcoming steps")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fecha_notificacion": day.Format("2006-01-02"),
		"total":              len(steps),
		"diligencias":        steps,
	})
}

// StepNotifications lists every notification recorded for one step.
func (h *Handler) StepNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid diligencia id")
		return
	}

	var notifications []models.Notification
	err = h.withSession(r.Context(), func(s *database.Session) error {
		var err error
		notifications, err = s.NotificationsForStep(r.Context(), id)
		return err
	})
	if err != nil {
		h.log.WithError(err).WithField("step_id", id).Error("failed to list step notifications")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"diligencia_id":  id,
		"total":          len(notifications),
		"notificaciones": notifications,
	})
}

// Health pings the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Stats reports process and delivery statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := h.db.Ping(ctx) == nil

	var counts map[models.NotificationState]int
	if dbStatus {
		err := h.withSession(ctx, func(s *database.Session) error {
			var err error
			counts, err = s.CountNotifications(ctx)
			return err
		})
		if err != nil {
			h.log.WithError(err).Warn("failed to count notifications")
		}
	}

	clients := 0
	if h.hub != nil {
		clients = h.hub.Clients()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_clients":  clients,
		"uptime":          formatDuration(time.Since(h.startTime)),
		"db_status":       dbStatus,
		"scheduler_state": h.sched.State(),
		"channels":        h.channels,
		"notifications":   counts,
		"timestamp":       time.Now().Unix(),
	})
}

// Logs returns the buffered service log lines.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	lines := []string{}
	if h.logs != nil {
		lines = h.logs.Entries()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": lines})
}

func (h *Handler) withSession(ctx context.Context, fn func(*database.Session) error) error {
	sess, err := h.db.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

func (h *Handler) now() string {
	opts := h.sched.Options()
	return opts.Now().In(opts.Location).Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
