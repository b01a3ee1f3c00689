package config

import (
	"reflect"
	"strings"

	logx "dripbot/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections in file order.
	Sections []string
	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
	// Fields are safe to log. The token is never included.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(name string, changed, restart bool, fields ...logx.Field) {
		if !changed {
			return
		}
		ch.Sections = append(ch.Sections, name)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, name)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(o.Token) != strings.TrimSpace(n.Token)
	mark("telegram",
		tokenChanged || o.PollTimeout != n.PollTimeout || o.GroupLog != n.GroupLog ||
			!reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs),
		tokenChanged || o.PollTimeout != n.PollTimeout,
		logx.Bool("telegram.token_changed", tokenChanged),
		logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
		logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
	)
	mark("logging", oldCfg.Logging != newCfg.Logging, false,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)
	mark("storage", oldCfg.Storage != newCfg.Storage, true,
		logx.String("storage.path", newCfg.Storage.Path),
	)
	od, nd := oldCfg.Drip, newCfg.Drip
	// The executor and the message sequence are built once at startup.
	dripRestart := od.MessagesPath != nd.MessagesPath || od.MaxAttempts != nd.MaxAttempts ||
		od.TransientDelay != nd.TransientDelay
	mark("drip", !reflect.DeepEqual(od, nd), dripRestart,
		logx.Float64("drip.min_days", newCfg.Drip.MinDays),
		logx.Float64("drip.max_days", newCfg.Drip.MaxDays),
		logx.Int("drip.per_minute_limit", newCfg.Drip.PerMinuteLimit),
	)
	mark("replies", !reflect.DeepEqual(oldCfg.Replies, newCfg.Replies), false,
		logx.Bool("replies.enabled", newCfg.Replies.On()),
		logx.Int("replies.phrases", len(newCfg.Replies.Phrases)),
	)
	mark("report", oldCfg.Report != newCfg.Report, false,
		logx.Bool("report.enabled", newCfg.Report.Enabled),
	)
	mark("metrics", oldCfg.Metrics != newCfg.Metrics, true,
		logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
	)
	mark("timezone", oldCfg.Timezone != newCfg.Timezone, false,
		logx.String("timezone", newCfg.Timezone),
	)
	return ch
}
