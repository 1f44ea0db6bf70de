package scheduler

import (
	"fmt"
	"time"
)

// Report summarises one notification cycle.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Disabled   bool      `json:"disabled"`

	// Entities (hearing per lead time, step, case) that got at least one notification.
	HearingsNotified int `json:"hearings_notified"`
	StepsNotified    int `json:"steps_notified"`
	CasesNotified    int `json:"cases_notified"`

	NotificationsCreated int      `json:"notifications_created"`
	DedupSkipped         int      `json:"dedup_skipped"`
	Errors               []string `json:"errors"`
}

// Result classifies the cycle for metrics and logs.
func (r Report) Result() string {
	switch {
	case r.Disabled:
		return "disabled"
	case len(r.Errors) > 0:
		return "partial"
	default:
		return "ok"
	}
}

func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// scanResult is what a single scanner contributes to the report.
type scanResult struct {
	notified int
	errors   []string
}

func (r *scanResult) fail(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}
