package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/metrics"
	"sgpj-legal/internal/middleware"
)

const AdminPrefix = "/api/v1/admin/notificaciones-automaticas"

// RouterOptions holds the optional pieces mounted next to the handlers.
type RouterOptions struct {
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// WebSocket serves the live notification feed when set.
	WebSocket http.HandlerFunc
}

// NewRouter mounts every endpoint and wraps the result in the standard
// middleware chain.
func NewRouter(h *Handler, log *logrus.Logger, opts RouterOptions) http.Handler {
	router := mux.NewRouter()

	if opts.WebSocket != nil {
		router.HandleFunc("/ws/notificaciones", opts.WebSocket)
	}
	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	admin := router.PathPrefix(AdminPrefix).Subrouter()
	admin.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	admin.HandleFunc("/check-now", h.CheckNow).Methods(http.MethodPost)
	admin.HandleFunc("/enabled", h.SetEnabled).Methods(http.MethodPut)
	admin.HandleFunc("/logs/recent", h.RecentLogs).Methods(http.MethodGet)
	admin.HandleFunc("/diligencias/proximas", h.UpcomingSteps).Methods(http.MethodGet)
	admin.HandleFunc("/notificaciones/por-diligencia/{id:[0-9]+}", h.StepNotifications).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	api.HandleFunc("/logs", h.Logs).Methods(http.MethodGet)

	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware)
	}
	router.Use(middleware.Logging(log))

	return middleware.CORS(middleware.Recovery(log)(router))
}
