package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "dripbot/pkg/logx"
)

const (
	DefaultMinDays        = 2.0
	DefaultMaxDays        = 3.0
	DefaultPerMinuteLimit = 20
	DefaultDBPath         = "data/users.db"
	DefaultMessagesPath   = "messages.json"
)

// ApplyDefaults fills the fields whose zero value is not a usable setting.
func (c *Config) ApplyDefaults() {
	if c.Drip.MinDays == 0 && c.Drip.MaxDays == 0 {
		c.Drip.MinDays, c.Drip.MaxDays = DefaultMinDays, DefaultMaxDays
	}
	if c.Drip.PerMinuteLimit == 0 {
		c.Drip.PerMinuteLimit = DefaultPerMinuteLimit
	}
	if strings.TrimSpace(c.Drip.MessagesPath) == "" {
		c.Drip.MessagesPath = DefaultMessagesPath
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultDBPath
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks everything that can be checked without side effects.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	if _, _, err := c.GroupLogChatID(); err != nil {
		add(err)
	}
	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.Telegram.MinLevel != "" && !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Telegram.GroupLog) == "" {
		add(errors.New("logging.telegram needs telegram.group_log"))
	}

	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	d := c.Drip
	if !(d.MinDays > 0 && d.MinDays <= d.MaxDays) {
		add(fmt.Errorf("drip: need 0 < min_days <= max_days, got %g and %g", d.MinDays, d.MaxDays))
	}
	if d.PerMinuteLimit <= 0 {
		add(fmt.Errorf("drip.per_minute_limit must be > 0, got %d", d.PerMinuteLimit))
	}
	if d.MaxAttempts < 0 {
		add(errors.New("drip.max_attempts must be >= 0"))
	}
	for path, raw := range map[string]string{
		"drip.sleep_between_sends":     d.SleepBetweenSends,
		"drip.idle_interval":           d.IdleInterval,
		"drip.error_backoff":           d.ErrorBackoff,
		"drip.drain_grace":             d.DrainGrace,
		"drip.transient_delay":         d.TransientDelay,
		"drip.users.post_batch_sleep":  d.Users.PostBatchSleep,
		"drip.groups.post_batch_sleep": d.Groups.PostBatchSleep,
		"replies.cooldown":             c.Replies.Cooldown,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	if d.Users.BatchSize < 0 || d.Groups.BatchSize < 0 {
		add(errors.New("drip batch_size must be >= 0"))
	}

	r := c.Replies
	if r.ResponseChance != nil && (*r.ResponseChance < 0 || *r.ResponseChance > 1) {
		add(fmt.Errorf("replies.response_chance must be within [0,1], got %g", *r.ResponseChance))
	}
	if r.MinMessageLength < 0 || r.CooldownMaxEntries < 0 || r.MaxLength < 0 {
		add(errors.New("replies: lengths and sizes must be >= 0"))
	}

	if _, err := c.Location(); err != nil {
		add(err)
	}
	if c.Report.Enabled {
		if strings.TrimSpace(c.Telegram.GroupLog) == "" {
			add(errors.New("report needs telegram.group_log"))
		}
		if s := strings.TrimSpace(c.Report.Cron); s != "" {
			p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
			if _, err := p.Parse(s); err != nil {
				add(fmt.Errorf("report.cron %q: %w", s, err))
			}
		}
		if tz := strings.TrimSpace(c.Report.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("report.timezone %q: %w", tz, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Location resolves the display timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

// GroupLogChatID parses telegram.group_log. ok is false when it is unset.
func (c *Config) GroupLogChatID() (id int64, ok bool, err error) {
	s := strings.TrimSpace(c.Telegram.GroupLog)
	if s == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("telegram.group_log: invalid chat id %q", s)
	}
	return id, true, nil
}
