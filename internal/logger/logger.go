package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus logger
type Logger struct {
	*logrus.Logger
}

// New creates a logger for the given service. format is "json" (default) or "text".
func New(serviceName, level, format string) *Logger {
	log := logrus.New()

	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	log.SetOutput(os.Stdout)

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	log.AddHook(serviceHook{service: serviceName})

	return &Logger{Logger: log}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{Logger: log}
}

// WithRunID scopes the logger to one scheduler cycle.
func (l *Logger) WithRunID(runID string) *logrus.Entry {
	return l.WithField("run_id", runID)
}

// serviceHook stamps every entry with the service name.
type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = h.service
	}
	return nil
}

// RingHook keeps the most recent formatted entries in memory so they can be
// served over HTTP.
type RingHook struct {
	mu      sync.RWMutex
	entries []string
	max     int
}

func NewRingHook(max int) *RingHook {
	if max <= 0 {
		max = 100
	}
	return &RingHook{max: max}
}

func (h *RingHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *RingHook) Fire(e *logrus.Entry) error {
	line := fmt.Sprintf("[%s] %s %s", e.Time.Format("15:04:05"), strings.ToUpper(e.Level.String()), e.Message)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, line)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return nil
}

// Entries returns a copy of the buffered lines, oldest first.
func (h *RingHook) Entries() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string{}, h.entries...)
}
