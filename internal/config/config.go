package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port        string `validate:"required"`
	Environment string
	LogLevel    string `validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string `validate:"omitempty,oneof=json text"`

	// Database
	DatabaseDriver string `validate:"oneof=postgres sqlite"`
	DatabaseURL    string `validate:"required"`
	DBMaxOpenConns int    `validate:"gte=0"`
	DBMaxIdleConns int    `validate:"gte=0"`

	// Timezone used to render dates and to resolve calendar days
	Timezone string `validate:"required"`

	// Automatic notifications
	AutoNotificationsEnabled      bool
	CheckIntervalMinutes          int      `validate:"gt=0"`
	AudienciaNotificationHours    []int    `validate:"min=1,dive,gt=0"`
	AudienciaWindowMarginMinutes  int      `validate:"gte=0"`
	AudienciaDedupWindowHours     int      `validate:"gt=0"`
	DiligenciaNotificationHours   int      `validate:"gte=0"`
	ProcesoReviewNotificationDays int      `validate:"gt=0"`
	ProcesoActiveStates           []string `validate:"min=1,dive,required"`
	AudienciaChannels             []string `validate:"min=1,dive,oneof=email sms system push"`
	DiligenciaChannels            []string `validate:"min=1,dive,oneof=email sms system push"`
	ProcesoChannels               []string `validate:"min=1,dive,oneof=email sms system push"`

	// Destinations
	NotificationEmails       []string `validate:"dive,email"`
	DefaultNotificationEmail string   `validate:"omitempty,email"`
	NotificationPhones       []string
	PushTopic                string
	SendRatePerMinute        int `validate:"gte=0"`

	// SMTP Configuration
	EmailEnabled  bool
	SMTPHost      string
	SMTPPort      int `validate:"gte=0,lte=65535"`
	SMTPUsername  string
	SMTPPassword  string
	SMTPFromName  string
	SMTPFromEmail string `validate:"omitempty,email"`

	// SMS
	SMSProvider string `validate:"oneof=simulated kavenegar"`
	SMSAPIKey   string
	SMSSender   string

	// Firebase
	FirebaseCredentialsPath string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("no .env file found, reading configuration from the environment")
	}

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	hours, err := intList(v, "audiencia_notification_hours")
	if err != nil {
		return nil, err
	}

	return &Config{
		// Server
		Port:        v.GetString("port"),
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),
		LogFormat:   v.GetString("log_format"),

		// Database
		DatabaseDriver: v.GetString("database_driver"),
		DatabaseURL:    v.GetString("database_url"),
		DBMaxOpenConns: v.GetInt("db_max_open_conns"),
		DBMaxIdleConns: v.GetInt("db_max_idle_conns"),

		Timezone: v.GetString("app_timezone"),

		// Automatic notifications
		AutoNotificationsEnabled:      v.GetBool("auto_notifications_enabled"),
		CheckIntervalMinutes:          v.GetInt("notification_check_interval_minutes"),
		AudienciaNotificationHours:    hours,
		AudienciaWindowMarginMinutes:  v.GetInt("audiencia_window_margin_minutes"),
		AudienciaDedupWindowHours:     v.GetInt("audiencia_dedup_window_hours"),
		DiligenciaNotificationHours:   v.GetInt("diligencia_notification_hours"),
		ProcesoReviewNotificationDays: v.GetInt("proceso_review_notification_days"),
		ProcesoActiveStates:           stringList(v, "proceso_active_states"),
		AudienciaChannels:             stringList(v, "audiencia_channels"),
		DiligenciaChannels:            stringList(v, "diligencia_channels"),
		ProcesoChannels:               stringList(v, "proceso_channels"),

		// Destinations
		NotificationEmails:       stringList(v, "notification_emails"),
		DefaultNotificationEmail: v.GetString("default_notification_email"),
		NotificationPhones:       stringList(v, "notification_phones"),
		PushTopic:                v.GetString("push_topic"),
		SendRatePerMinute:        v.GetInt("send_rate_per_minute"),

		// SMTP
		EmailEnabled:  v.GetBool("email_enabled"),
		SMTPHost:      v.GetString("smtp_host"),
		SMTPPort:      v.GetInt("smtp_port"),
		SMTPUsername:  v.GetString("smtp_username"),
		SMTPPassword:  v.GetString("smtp_password"),
		SMTPFromName:  v.GetString("smtp_from_name"),
		SMTPFromEmail: v.GetString("smtp_from_email"),

		// SMS
		SMSProvider: v.GetString("sms_provider"),
		SMSAPIKey:   v.GetString("sms_api_key"),
		SMSSender:   v.GetString("sms_sender"),

		// Firebase
		FirebaseCredentialsPath: v.GetString("firebase_credentials_path"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("database_driver", "postgres")
	v.SetDefault("db_max_open_conns", 10)
	v.SetDefault("db_max_idle_conns", 5)

	v.SetDefault("app_timezone", "America/Lima")

	v.SetDefault("auto_notifications_enabled", true)
	v.SetDefault("notification_check_interval_minutes", 60)
	v.SetDefault("audiencia_notification_hours", "24,12")
	v.SetDefault("audiencia_window_margin_minutes", 60)
	v.SetDefault("audiencia_dedup_window_hours", 2)
	v.SetDefault("diligencia_notification_hours", 24)
	v.SetDefault("proceso_review_notification_days", 7)
	v.SetDefault("proceso_active_states", "Activo,En trámite")
	v.SetDefault("audiencia_channels", "email")
	v.SetDefault("diligencia_channels", "email")
	v.SetDefault("proceso_channels", "email")
	v.SetDefault("send_rate_per_minute", 30)

	v.SetDefault("email_enabled", true)
	v.SetDefault("smtp_host", "smtp.gmail.com")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_from_name", "Pisfil Leon Abogados & Asociados")
	v.SetDefault("smtp_from_email", "noreply@sgpj-legal.com")

	v.SetDefault("sms_provider", "simulated")
}

// stringList reads a key that may hold either a YAML list or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case []interface{}:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	case []string:
		raw = val
	default:
		raw = strings.Split(v.GetString(key), ",")
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intList(v *viper.Viper, key string) ([]int, error) {
	items := stringList(v, key)
	out := make([]int, 0, len(items))
	for _, s := range items {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", strings.ToUpper(key), s, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Validate checks the struct rules and the cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.Timezone, err)
	}

	margin := time.Duration(c.AudienciaWindowMarginMinutes) * time.Minute
	if time.Duration(c.AudienciaDedupWindowHours)*time.Hour < 2*margin {
		return fmt.Errorf("AUDIENCIA_DEDUP_WINDOW_HOURS (%dh) must cover the whole hearing window (2 x %dm)",
			c.AudienciaDedupWindowHours, c.AudienciaWindowMarginMinutes)
	}

	if c.usesChannel("email") && len(c.NotificationEmails) == 0 {
		return fmt.Errorf("NOTIFICATION_EMAILS is required when the email channel is enabled")
	}
	if c.usesChannel("sms") && len(c.NotificationPhones) == 0 {
		return fmt.Errorf("NOTIFICATION_PHONES is required when the sms channel is enabled")
	}
	if c.usesChannel("push") && (c.PushTopic == "" || c.FirebaseCredentialsPath == "") {
		return fmt.Errorf("PUSH_TOPIC and FIREBASE_CREDENTIALS_PATH are required when the push channel is enabled")
	}

	if c.EmailEnabled && (c.SMTPUsername == "" || c.SMTPPassword == "") {
		logrus.Warn("email channel enabled but SMTP credentials are not configured")
	}
	if c.SMSProvider == "kavenegar" && c.SMSAPIKey == "" {
		logrus.Warn("SMS_PROVIDER is kavenegar but SMS_API_KEY is not set")
	}

	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) usesChannel(name string) bool {
	for _, list := range [][]string{c.AudienciaChannels, c.DiligenciaChannels, c.ProcesoChannels} {
		for _, ch := range list {
			if ch == name {
				return true
			}
		}
	}
	return false
}
