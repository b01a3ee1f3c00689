package app

import (
	"strings"
	"time"

	"dripbot/internal/config"
	"dripbot/internal/delivery"
	"dripbot/internal/domain"
	"dripbot/internal/drip"
	"dripbot/internal/metrics"
	"dripbot/internal/report"
	"dripbot/internal/reply"
	"dripbot/internal/storage"
	"dripbot/internal/transport/telegram/adapter"
	logx "dripbot/pkg/logx"
)

// Used when replies.phrases is empty.
var defaultPhrases = []string{
	"Thanks for the message, {name}!",
	"Good to hear from you, {name}.",
	"Noted, {name}. More is on the way soon.",
	"Appreciate it, {name} 🙌",
}

// Groups get smaller batches than individuals unless configured.
const defaultGroupBatch = 20

func logConfig(cfg *config.Config) logx.Config {
	chatID, _, _ := cfg.GroupLogChatID()
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func adapterConfig(cfg *config.Config) adapter.Config {
	return adapter.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 5*time.Second),
	}
}

func classConfig(cfg *config.Config, class domain.Class) config.DripClassConfig {
	if class == domain.Group {
		return cfg.Drip.Groups
	}
	return cfg.Drip.Users
}

// dripParams maps the shared drip knobs plus the class block. The per-minute
// limit is enforced per class.
func dripParams(cfg *config.Config, class domain.Class) drip.Params {
	d := cfg.Drip
	cc := classConfig(cfg, class)
	def := drip.DefaultParams(class)

	batch := cc.BatchSize
	if batch <= 0 {
		batch = defaultGroupBatch
		if class == domain.Individual {
			batch = d.PerMinuteLimit
		}
	}
	return drip.Params{
		MinDays:      d.MinDays,
		MaxDays:      d.MaxDays,
		BatchSize:    batch,
		PerWindow:    d.PerMinuteLimit,
		Window:       time.Minute,
		Pacing:       config.DurationOr(d.SleepBetweenSends, def.Pacing),
		PostBatch:    config.DurationOr(cc.PostBatchSleep, def.PostBatch),
		Idle:         config.DurationOr(d.IdleInterval, def.Idle),
		ErrorBackoff: config.DurationOr(d.ErrorBackoff, def.ErrorBackoff),
		DrainGrace:   config.DurationOr(d.DrainGrace, def.DrainGrace),
	}
}

func deliveryConfig(cfg *config.Config) delivery.Config {
	def := delivery.DefaultConfig()
	c := def
	if cfg.Drip.MaxAttempts > 0 {
		c.MaxAttempts = cfg.Drip.MaxAttempts
	}
	c.TransientDelay = config.DurationOr(cfg.Drip.TransientDelay, def.TransientDelay)
	return c
}

func replyPolicy(cfg *config.Config) reply.Policy {
	r := cfg.Replies
	p := reply.DefaultPolicy()
	p.Enabled = r.On()
	if r.ResponseChance != nil {
		p.Chance = *r.ResponseChance
	}
	if r.MinMessageLength > 0 {
		p.MinLength = r.MinMessageLength
	}
	p.Cooldown = config.DurationOr(r.Cooldown, p.Cooldown)
	if r.CooldownMaxEntries > 0 {
		p.MaxEntries = r.CooldownMaxEntries
	}
	if r.MaxLength > 0 {
		p.MaxLength = r.MaxLength
	}
	if s := strings.TrimSpace(r.Fallback); s != "" {
		p.Fallback = s
	}
	return p
}

func replyPhrases(cfg *config.Config) []string {
	if len(cfg.Replies.Phrases) == 0 {
		return defaultPhrases
	}
	return cfg.Replies.Phrases
}

func reportConfig(cfg *config.Config) report.Config {
	chatID, _, _ := cfg.GroupLogChatID()
	tz := strings.TrimSpace(cfg.Report.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Timezone)
	}
	return report.Config{
		Enabled:  cfg.Report.Enabled,
		Schedule: cfg.Report.Cron,
		Timezone: tz,
		ChatID:   chatID,
		ThreadID: cfg.Logging.Telegram.ThreadID,
	}
}

func metricsAddr(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Metrics.Addr); s != "" {
		return s
	}
	return metrics.DefaultAddr
}
