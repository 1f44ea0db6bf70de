package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"sgpj-legal/internal/api"
	"sgpj-legal/internal/app"
	"sgpj-legal/internal/config"
	"sgpj-legal/internal/logger"
	"sgpj-legal/internal/signaling"
	"sgpj-legal/internal/workers"
)

const serviceName = "sgpj-notifier"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := logger.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	ring := logger.NewRingHook(100)
	log.AddHook(ring)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"driver":      cfg.DatabaseDriver,
		"timezone":    cfg.Timezone,
	}).Info("starting notification service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise service")
	}
	defer a.Close()

	hub := signaling.NewHub(log.Logger)
	a.Scheduler.AddObserver(hub)

	wm := workers.NewWorkerManager(log.Logger, 10*time.Minute)
	wm.RegisterWorker(a.Scheduler)
	wm.RegisterWorker(workers.NewDBStatsWorker(a.DB, a.Metrics, 30*time.Second))
	// In-flight cycles finish on shutdown; Stop waits for them.
	wm.Start(context.Background())

	handler := api.NewHandler(api.Deps{
		Scheduler: a.Scheduler,
		DB:        a.DB,
		Hub:       hub,
		Logs:      ring,
		Log:       log.Logger,
		Channels:  a.Channels,
	})
	router := api.NewRouter(handler, log.Logger, api.RouterOptions{
		Metrics:   a.Metrics,
		Gatherer:  a.Registry,
		WebSocket: hub.ServeWS,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server ready")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	wm.Stop()

	log.Info("service stopped")
}
