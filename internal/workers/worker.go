package workers

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Worker is implemented by every periodic background job.
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// WorkerManager runs registered workers, each in its own goroutine.
type WorkerManager struct {
	workers    []Worker
	log        *logrus.Logger
	runTimeout time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
}

// NewWorkerManager creates a manager. Each run is bounded by runTimeout,
// 10 minutes when zero.
func NewWorkerManager(log *logrus.Logger, runTimeout time.Duration) *WorkerManager {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	return &WorkerManager{
		workers:    []Worker{},
		log:        log,
		runTimeout: runTimeout,
		stopChan:   make(chan struct{}),
	}
}

// RegisterWorker adds a worker. Workers registered after Start are not run.
func (wm *WorkerManager) RegisterWorker(w Worker) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.workers = append(wm.workers, w)
	wm.log.WithFields(logrus.Fields{"worker": w.Name(), "interval": w.Interval().String()}).Info("worker registered")
}

// Start launches every registered worker. Cancelling ctx aborts in-flight runs.
func (wm *WorkerManager) Start(ctx context.Context) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.started {
		return
	}
	wm.started = true

	wm.log.WithField("count", len(wm.workers)).Info("starting workers")
	for _, worker := range wm.workers {
		wm.wg.Add(1)
		go wm.runWorker(ctx, worker)
	}
}

func (wm *WorkerManager) runWorker(ctx context.Context, w Worker) {
	defer wm.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	log := wm.log.WithField("worker", w.Name())
	log.Info("worker started")

	// First run happens right away.
	wm.executeWorker(ctx, w)

	for {
		select {
		case <-ticker.C:
			wm.executeWorker(ctx, w)

		case <-wm.stopChan:
			log.Info("worker stopped")
			return

		case <-ctx.Done():
			log.Info("worker context cancelled")
			return
		}
	}
}

// executeWorker runs w once with a timeout. Errors are logged; the worker
// keeps its schedule.
func (wm *WorkerManager) executeWorker(ctx context.Context, w Worker) {
	ctx, cancel := context.WithTimeout(ctx, wm.runTimeout)
	defer cancel()

	startTime := time.Now()
	log := wm.log.WithField("worker", w.Name())

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("worker panicked")
		}
	}()

	if err := w.Run(ctx); err != nil {
		log.WithError(err).Error("worker run failed")
		return
	}
	log.WithField("duration", time.Since(startTime).String()).Debug("worker run completed")
}

// Stop prevents future runs and waits for in-flight ones to finish.
func (wm *WorkerManager) Stop() {
	wm.log.Info("stopping workers")

	wm.stopOnce.Do(func() { close(wm.stopChan) })
	wm.wg.Wait()

	wm.log.Info("all workers stopped")
}

// WorkerStats describes the registered workers.
type WorkerStats struct {
	TotalWorkers int      `json:"total_workers"`
	WorkerNames  []string `json:"worker_names"`
}

func (wm *WorkerManager) GetStats() WorkerStats {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	names := make([]string, len(wm.workers))
	for i, w := range wm.workers {
		names[i] = w.Name()
	}

	return WorkerStats{
		TotalWorkers: len(wm.workers),
		WorkerNames:  names,
	}
}
