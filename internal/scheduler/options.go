package scheduler

import (
	"time"

	"sgpj-legal/internal/config"
	"sgpj-legal/pkg/models"
)

// Options is the explicit configuration of the scheduler and its scanners.
type Options struct {
	Enabled  bool
	Interval time.Duration

	HearingLeadHours   []int
	HearingMargin      time.Duration
	HearingDedupWindow time.Duration
	HearingChannels    []models.Channel

	StepLeadHours int
	StepStates    []models.StepStatus
	StepChannels  []models.Channel

	StaleAfterDays   int
	ActiveCaseStates []string
	CaseChannels     []models.Channel

	Emails       []string
	DefaultEmail string
	Phones       []string
	PushTopic    string

	Location *time.Location
	Now      func() time.Time
}

// OptionsFromConfig maps the service configuration onto scheduler options.
func OptionsFromConfig(cfg *config.Config) Options {
	defaultEmail := cfg.DefaultNotificationEmail
	if defaultEmail == "" && len(cfg.NotificationEmails) > 0 {
		defaultEmail = cfg.NotificationEmails[0]
	}

	return Options{
		Enabled:  cfg.AutoNotificationsEnabled,
		Interval: time.Duration(cfg.CheckIntervalMinutes) * time.Minute,

		HearingLeadHours:   cfg.AudienciaNotificationHours,
		HearingMargin:      time.Duration(cfg.AudienciaWindowMarginMinutes) * time.Minute,
		HearingDedupWindow: time.Duration(cfg.AudienciaDedupWindowHours) * time.Hour,
		HearingChannels:    channels(cfg.AudienciaChannels),

		StepLeadHours: cfg.DiligenciaNotificationHours,
		StepStates:    []models.StepStatus{models.StepPending, models.StepInProgress},
		StepChannels:  channels(cfg.DiligenciaChannels),

		StaleAfterDays:   cfg.ProcesoReviewNotificationDays,
		ActiveCaseStates: cfg.ProcesoActiveStates,
		CaseChannels:     channels(cfg.ProcesoChannels),

		Emails:       cfg.NotificationEmails,
		DefaultEmail: defaultEmail,
		Phones:       cfg.NotificationPhones,
		PushTopic:    cfg.PushTopic,

		Location: cfg.Location(),
	}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Hour
	}
	if o.HearingDedupWindow <= 0 {
		o.HearingDedupWindow = 2 * time.Hour
	}
	// A hearing stays inside one lead window for 2*margin; the guard must see
	// every earlier attempt made while it was there.
	o.HearingDedupWindow = max(o.HearingDedupWindow, 2*o.HearingMargin)
	if len(o.StepStates) == 0 {
		o.StepStates = []models.StepStatus{models.StepPending, models.StepInProgress}
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func channels(names []string) []models.Channel {
	out := make([]models.Channel, 0, len(names))
	for _, n := range names {
		out = append(out, models.Channel(n))
	}
	return out
}
