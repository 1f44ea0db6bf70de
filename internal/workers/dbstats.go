package workers

import (
	"context"
	"database/sql"
	"time"
)

// StatsSource is satisfied by *database.DB.
type StatsSource interface {
	Stats() sql.DBStats
}

// StatsSink is satisfied by *metrics.Metrics.
type StatsSink interface {
	ObserveDBStats(sql.DBStats)
}

// DBStatsWorker publishes connection pool statistics.
type DBStatsWorker struct {
	db       StatsSource
	sink     StatsSink
	interval time.Duration
}

func NewDBStatsWorker(db StatsSource, sink StatsSink, interval time.Duration) *DBStatsWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DBStatsWorker{db: db, sink: sink, interval: interval}
}

func (w *DBStatsWorker) Name() string { return "db-stats" }

func (w *DBStatsWorker) Interval() time.Duration { return w.interval }

func (w *DBStatsWorker) Run(ctx context.Context) error {
	w.sink.ObserveDBStats(w.db.Stats())
	return nil
}
