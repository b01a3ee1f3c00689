package adapter

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	"dripbot/internal/domain"
	kit "dripbot/internal/transport"
)

const telegramTextLimit = 4000

// messageAPI is the part of *tele.Bot used for outgoing text.
type messageAPI interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// SendText sends text, splitting it into several messages when it exceeds
// the Telegram limit. It serves replies, reports and the log sink.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	for _, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := a.sendOne(ctx, to, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// Send performs one drip delivery attempt (HTML, no link previews) and
// classifies the result. The body always goes out as a single message so a
// retry can never repeat part of it; Telegram rejects oversized bodies,
// which classifies as InvalidContent.
func (a *Adapter) Send(ctx context.Context, chatID int64, text string) domain.Outcome {
	return Classify(a.sendOne(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{
		ParseMode:      tele.ModeHTML,
		DisablePreview: true,
	}))
}

func (a *Adapter) sendOne(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.api.Send(&tele.Chat{ID: to.ChatID}, text, &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	})
	return err
}

// splitTelegramText cuts s into chunks of at most limit runes. It prefers
// newline boundaries and, for HTML, avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	html := strings.EqualFold(parseMode, "HTML")
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if cut := lastNewline(rs, start, end, limit/3); cut > 0 {
				end = cut
			}
			if html {
				if open := danglingTag(rs, start, end); open > start+1 {
					end = open
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// lastNewline returns the index just past the last newline in rs[start:end]
// that leaves a chunk of at least minLen runes, or -1.
func lastNewline(rs []rune, start, end, minLen int) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && i-start >= minLen {
			return i + 1
		}
	}
	return -1
}

// danglingTag returns the index of a '<' in rs[start:end] that has no
// closing '>' before end, or -1.
func danglingTag(rs []rune, start, end int) int {
	lastOpen, lastClose := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose {
		return lastOpen
	}
	return -1
}
