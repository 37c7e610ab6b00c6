package config

// Config is the on-disk configuration. Durations are strings parsed with
// ParseDurationField ("30s", "5m", ...); zero values fall back to each
// service's defaults.
type Config struct {
	Logging   LoggingConfig       `json:"logging"`
	Storage   StorageConfig       `json:"storage"`
	Queue     QueueConfig         `json:"queue"`
	Schedules SchedulesConfig     `json:"schedules"`
	Mailer    MailerConfig        `json:"mailer"`
	Report    ReportConfig        `json:"report"`
	HTTP      HTTPConfig          `json:"http"`
	Roles     map[string][]string `json:"roles"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type QueueConfig struct {
	Workers      int         `json:"workers"`
	PollInterval string      `json:"poll_interval"`
	Lease        string      `json:"lease"`
	JobTimeout   string      `json:"job_timeout"`
	Retry        RetryConfig `json:"retry"`
}

type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts"`
	Base        string `json:"base"`
	MaxDelay    string `json:"max_delay"`
	// Jitter is a pointer so an explicit 0 (no jitter) is distinguishable
	// from an omitted field (default jitter).
	Jitter *float64 `json:"jitter"`
}

type SchedulesConfig struct {
	Timezone     string `json:"timezone"`
	DailyAt      string `json:"daily_at"`
	WeeklyAt     string `json:"weekly_at"`
	WeeklyDay    string `json:"weekly_day"`
	SweepEvery   string `json:"sweep_every"`
	SweepHorizon string `json:"sweep_horizon"`
	ReportAt     string `json:"report_at"`
}

type MailerConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	From       string `json:"from"`
	Domain     string `json:"domain"`
	Timeout    string `json:"timeout"`
	RatePerSec int    `json:"rate_per_sec"`
}

type ReportConfig struct {
	Recipient string `json:"recipient"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}
