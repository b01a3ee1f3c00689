package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"dripbot/internal/domain"
	"dripbot/internal/drip"
	"dripbot/internal/storage"
	"dripbot/internal/transport/telegram/router"
)

const tsLayout = "2006-01-02 15:04:05 MST"

const (
	textWelcome = "✅ <b>Welcome!</b>\n\n" +
		"📬 You will receive an update every few days.\n" +
		"💬 You can also just talk to me.\n\n" +
		"/stop - stop updates\n/status - your subscription\n/help - help"
	textStopped = "🛑 Updates stopped.\n\n" +
		"💬 You can still talk to me.\n🔄 Send /start to resume."
	textNotSubscribed      = "📝 You are not subscribed yet. Send /start to begin."
	textGroupWelcome       = "✅ <b>Group subscription active.</b>\n\n📬 This group will receive regular updates."
	textGroupStopped       = "🛑 Group subscription stopped."
	textGroupNotSubscribed = "📝 This group is not subscribed. Use /groupstart."
	textFailed             = "❌ Something went wrong, please try again."
	textGroupOnly          = "Run this command inside a GROUP."
	textPrivateOnly        = "Send this command to me in a private chat."
	textUnknown            = "Unknown command. Try /help"
	textUnauthorized       = "⛔ This command is restricted."
)

// formatTime renders t in loc, or "-" when unset.
func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(tsLayout)
}

func renderStatus(title string, r *domain.Recipient, loc *time.Location) string {
	state := "🟢 active"
	if !r.Active {
		state = "🔴 stopped"
	}
	lines := []string{
		"📊 <b>" + html.EscapeString(title) + "</b>",
		"",
		"Updates: " + state,
		"Last sent: " + formatTime(r.LastSentAt, loc),
		"Next send: " + formatTime(r.NextDueAt, loc),
		fmt.Sprintf("Messages: %d", r.Cursor),
	}
	return strings.Join(lines, "\n")
}

func renderHelp(cmds []router.Command) string {
	var personal, group []string
	for _, c := range cmds {
		if c.OwnerOnly {
			continue
		}
		line := "/" + html.EscapeString(c.Name)
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		if c.Scope == router.ScopeGroup {
			group = append(group, line)
		} else {
			personal = append(personal, line)
		}
	}
	lines := []string{"🤖 <b>Help</b>", "", "<b>Commands</b>"}
	lines = append(lines, personal...)
	if len(group) > 0 {
		lines = append(lines, "", "<b>Group commands</b>")
		lines = append(lines, group...)
	}
	lines = append(lines, "",
		"In private chats I answer every message.",
		"In groups I join the conversation now and then.",
	)
	return strings.Join(lines, "\n")
}

type classCounts struct {
	class  domain.Class
	counts storage.Counts
}

func renderStats(counts []classCounts, snaps []drip.Snapshot, loc *time.Location) string {
	lines := []string{"📈 <b>Stats</b>"}
	for _, c := range counts {
		lines = append(lines, fmt.Sprintf("%s: %d total, %d active, %d due",
			c.class, c.counts.Total, c.counts.Active, c.counts.Due))
	}
	for _, s := range snaps {
		last := "-"
		if !s.LastCycleAt.IsZero() {
			last = s.LastCycleAt.In(loc).Format(tsLayout)
		}
		lines = append(lines, "",
			fmt.Sprintf("<b>%s scheduler</b>", s.Class),
			fmt.Sprintf("cycles %d (failed %d), last %s", s.Cycles, s.FailedCycles, last),
			fmt.Sprintf("sent %d, deactivated %d, skipped %d, throttled %d",
				s.Sent, s.Deactivated, s.Skipped, s.Throttled),
			fmt.Sprintf("window %d/%d per %s", s.Window.Sent, s.Window.Limit, s.Window.Window),
		)
	}
	return strings.Join(lines, "\n")
}

// RouterTexts fills the router's failure texts with the bot's wording.
func RouterTexts(o router.Options) router.Options {
	o.UnknownCommand = textUnknown
	o.GroupOnly = textGroupOnly
	o.PrivateOnly = textPrivateOnly
	o.Unauthorized = textUnauthorized
	return o
}
