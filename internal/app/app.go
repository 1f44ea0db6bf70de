package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sgpj-legal/internal/config"
	"sgpj-legal/internal/database"
	"sgpj-legal/internal/email"
	"sgpj-legal/internal/logger"
	"sgpj-legal/internal/metrics"
	"sgpj-legal/internal/notify"
	"sgpj-legal/internal/push"
	"sgpj-legal/internal/scheduler"
	"sgpj-legal/internal/sms"
	"sgpj-legal/pkg/models"
)

// App bundles the components shared by the server and the CLI.
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	DB         *database.DB
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Dispatcher *notify.Dispatcher
	Scheduler  *scheduler.Scheduler
	Channels   []models.Channel
}

// New connects to the database, applies migrations and wires the delivery
// channels and the scheduler.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := database.NewDB(database.Config{
		Driver:          cfg.DatabaseDriver,
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	version, err := db.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	log.WithField("schema_version", version).Info("database ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	senders := Senders(ctx, cfg, log)
	dispatcher := notify.NewDispatcher(log.Logger, notify.DispatcherOptions{
		RateLimitPerMinute: cfg.SendRatePerMinute,
		Senders:            senders,
	})

	channels := []models.Channel{models.ChannelSystem}
	for _, s := range senders {
		channels = append(channels, s.Channel())
	}

	sched := scheduler.NewScheduler(db, dispatcher, log, m, scheduler.OptionsFromConfig(cfg))

	return &App{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Registry:   reg,
		Metrics:    m,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Channels:   channels,
	}, nil
}

// Senders builds the external delivery channels that are configured. A
// channel that fails to initialise is left out; its notifications are then
// recorded as ERROR.
func Senders(ctx context.Context, cfg *config.Config, log *logger.Logger) []notify.Sender {
	var senders []notify.Sender

	if cfg.EmailEnabled {
		svc, err := email.NewEmailService(cfg)
		if err != nil {
			log.WithError(err).Warn("email channel disabled")
		} else {
			senders = append(senders, svc)
		}
	}

	senders = append(senders, sms.NewSender(cfg, log.Logger))

	if cfg.FirebaseCredentialsPath != "" {
		svc, err := push.NewFirebaseService(ctx, cfg.FirebaseCredentialsPath, log.Logger)
		if err != nil {
			log.WithError(err).Warn("push channel disabled")
		} else {
			senders = append(senders, svc)
		}
	}

	return senders
}

func (a *App) Close() error {
	return a.DB.Close()
}
