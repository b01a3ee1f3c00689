package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("100ms", "30s", "5m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Drip     DripConfig     `json:"drip"`
	Replies  RepliesConfig  `json:"replies"`
	Report   ReportConfig   `json:"report"`
	Metrics  MetricsConfig  `json:"metrics"`

	// Timezone is used to display timestamps in /status. Default: UTC.
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the operator chat id used by the log sink and reports.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig changes need a restart.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DripConfig holds the shared scheduler knobs plus one block per class.
//
// Defaults:
//   - min_days: 2, max_days: 3
//   - per_minute_limit: 20
//   - sleep_between_sends: "100ms"
//   - idle_interval: "30s", error_backoff: "30s", drain_grace: "10s"
//   - max_attempts: 3, transient_delay: "2s"
//   - users.batch_size: per_minute_limit, users.post_batch_sleep: "2s"
//   - groups.batch_size: 20, groups.post_batch_sleep: "5s"
type DripConfig struct {
	MinDays           float64 `json:"min_days"`
	MaxDays           float64 `json:"max_days"`
	PerMinuteLimit    int     `json:"per_minute_limit"`
	SleepBetweenSends string  `json:"sleep_between_sends,omitempty"`
	IdleInterval      string  `json:"idle_interval,omitempty"`
	ErrorBackoff      string  `json:"error_backoff,omitempty"`
	DrainGrace        string  `json:"drain_grace,omitempty"`
	MessagesPath      string  `json:"messages_path"`

	MaxAttempts    int    `json:"max_attempts,omitempty"`
	TransientDelay string `json:"transient_delay,omitempty"`

	Users  DripClassConfig `json:"users"`
	Groups DripClassConfig `json:"groups"`
}

// DripClassConfig: Enabled is a pointer so that an omitted block means on.
type DripClassConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	PostBatchSleep string `json:"post_batch_sleep,omitempty"`
}

func (c DripClassConfig) On() bool { return c.Enabled == nil || *c.Enabled }

type RepliesConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// ResponseChance is the probability of answering in groups (0..1).
	ResponseChance     *float64 `json:"response_chance,omitempty"`
	MinMessageLength   int      `json:"min_message_length,omitempty"`
	Cooldown           string   `json:"cooldown,omitempty"`
	CooldownMaxEntries int      `json:"cooldown_max_entries,omitempty"`
	MaxLength          int      `json:"max_length,omitempty"`
	Phrases            []string `json:"phrases,omitempty"`
	Fallback           string   `json:"fallback,omitempty"`
}

func (c RepliesConfig) On() bool { return c.Enabled == nil || *c.Enabled }

// ReportConfig schedules the subscriber summary into telegram.group_log.
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	// Pprof mounts /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
