// Package bot implements the chat surface: subscription commands for users
// and groups, status and help, and opportunistic replies to free text.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dripbot/internal/delivery"
	"dripbot/internal/domain"
	"dripbot/internal/drip"
	"dripbot/internal/reply"
	"dripbot/internal/storage"
	"dripbot/internal/transport/telegram/router"
	logx "dripbot/pkg/logx"
)

// Deliverer sends one reply through the delivery executor.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, text string) delivery.Result
}

// Counter reports per-class subscriber totals for /stats.
type Counter interface {
	Count(ctx context.Context, class domain.Class) (storage.Counts, error)
}

// SchedulerView is the read side of a drip scheduler.
type SchedulerView interface {
	Snapshot() drip.Snapshot
}

type Deps struct {
	Users   storage.RecipientStore
	Groups  storage.RecipientStore
	Replies *reply.Producer
	Deliver Deliverer

	// Optional, used by /stats.
	Counter    Counter
	Schedulers []SchedulerView

	Location *time.Location
	Log      logx.Logger
}

type Handler struct {
	users   storage.RecipientStore
	groups  storage.RecipientStore
	replies *reply.Producer
	deliver Deliverer
	counter Counter
	scheds  []SchedulerView
	log     logx.Logger

	loc atomic.Pointer[time.Location]

	// help is rendered from the router registry at call time.
	commands func() []router.Command
}

func New(d Deps) (*Handler, error) {
	if d.Users == nil || d.Groups == nil {
		return nil, errors.New("bot: recipient stores are required")
	}
	if d.Replies == nil || d.Deliver == nil {
		return nil, errors.New("bot: reply producer and deliverer are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &Handler{
		users:   d.Users,
		groups:  d.Groups,
		replies: d.Replies,
		deliver: d.Deliver,
		counter: d.Counter,
		scheds:  append([]SchedulerView(nil), d.Schedulers...),
		log:     d.Log.With(logx.String("comp", "bot")),
	}
	h.SetLocation(d.Location)
	return h, nil
}

// SetLocation changes the zone used to display timestamps. nil means UTC.
func (h *Handler) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	h.loc.Store(loc)
}

func (h *Handler) location() *time.Location { return h.loc.Load() }

// Register installs the commands and the free-text handler on r.
func (h *Handler) Register(r *router.Router) {
	h.commands = r.Commands
	r.SetCommands(h.Commands())
	r.SetTextHandler(h.handleText)
}

// Commands returns the command set served by the bot.
func (h *Handler) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Subscribe to updates", Scope: router.ScopePrivate, Handle: h.start},
		{Name: "stop", Description: "Stop updates", Scope: router.ScopePrivate, Handle: h.stop},
		{Name: "status", Description: "Show your subscription", Scope: router.ScopePrivate, Handle: h.status},
		{Name: "help", Description: "Show help", Handle: h.help},
		{Name: "groupstart", Description: "Subscribe this group", Scope: router.ScopeGroup, Handle: h.groupStart},
		{Name: "groupstop", Description: "Stop updates in this group", Scope: router.ScopeGroup, Handle: h.groupStop},
		{Name: "groupstatus", Description: "Show this group's subscription", Scope: router.ScopeGroup, Handle: h.groupStatus},
		{Name: "stats", Description: "Delivery statistics", OwnerOnly: true, Handle: h.stats},
	}
}

func (h *Handler) start(ctx context.Context, req *router.Request) error {
	m := req.Message
	meta := domain.Metadata{Username: m.FromUsername, FirstName: m.FromFirstName, LastName: m.FromLastName}
	if err := h.users.Upsert(ctx, m.FromID, meta); err != nil {
		_ = req.Reply(ctx, textFailed)
		return fmt.Errorf("subscribe user %d: %w", m.FromID, err)
	}
	req.Logger.Info("user subscribed", logx.Int64("user_id", m.FromID))
	return req.ReplyHTML(ctx, textWelcome)
}

func (h *Handler) stop(ctx context.Context, req *router.Request) error {
	id := req.Message.FromID
	err := h.users.SetActive(ctx, id, false)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, textNotSubscribed)
	case err != nil:
		_ = req.Reply(ctx, textFailed)
		return fmt.Errorf("unsubscribe user %d: %w", id, err)
	}
	req.Logger.Info("user unsubscribed", logx.Int64("user_id", id))
	return req.ReplyHTML(ctx, textStopped)
}

func (h *Handler) status(ctx context.Context, req *router.Request) error {
	r, err := h.users.Get(ctx, req.Message.FromID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, textNotSubscribed)
	case err != nil:
		_ = req.Reply(ctx, textFailed)
		return fmt.Errorf("load user %d: %w", req.Message.FromID, err)
	}
	return req.ReplyHTML(ctx, renderStatus("Your subscription", r, h.location()))
}

func (h *Handler) help(ctx context.Context, req *router.Request) error {
	cmds := h.Commands()
	if h.commands != nil {
		cmds = h.commands()
	}
	return req.ReplyHTML(ctx, renderHelp(cmds))
}

func (h *Handler) groupStart(ctx context.Context, req *router.Request) error {
	m := req.Message
	if err := h.groups.Upsert(ctx, m.ChatID, domain.Metadata{Title: m.ChatTitle}); err != nil {
		_ = req.Reply(ctx, textFailed)
		return fmt.Errorf("subscribe group %d: %w", m.ChatID, err)
	}
	req.Logger.Info("group subscribed", logx.String("title", m.ChatTitle))
	return req.ReplyHTML(ctx, textGroupWelcome)
}

func (h *Handler) groupStop(ctx context.Context, req *router.Request) error {
	err := h.groups.SetActive(ctx, req.Message.ChatID, false)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, textGroupNotSubscribed)
	case err != nil:
		_ = req.Reply(ctx, textFailed)
		return fmt.Errorf("unsubscribe group %d: %w", req.Message.ChatID, err)
	}
	req.Logger.Info("group unsubscribed")
	return req.Reply(ctx, textGroupStopped)
}

func (h *Handler) groupStatus(ctx context.Context, req *router.Request) error {
	r, err := h.groups.Get(ctx, req.Message.ChatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, textGroupNotSubscribed)
	case err != nil:
		_ = req.Reply(ctx, textFailed)
		return fmt.Errorf("load group %d: %w", req.Message.ChatID, err)
	}
	return req.ReplyHTML(ctx, renderStatus("Group subscription", r, h.location()))
}

func (h *Handler) stats(ctx context.Context, req *router.Request) error {
	var counts []classCounts
	if h.counter != nil {
		for _, c := range domain.Classes() {
			n, err := h.counter.Count(ctx, c)
			if err != nil {
				_ = req.Reply(ctx, textFailed)
				return fmt.Errorf("count %s: %w", c, err)
			}
			counts = append(counts, classCounts{class: c, counts: n})
		}
	}
	snaps := make([]drip.Snapshot, 0, len(h.scheds))
	for _, s := range h.scheds {
		snaps = append(snaps, s.Snapshot())
	}
	return req.ReplyHTML(ctx, renderStats(counts, snaps, h.location()))
}

// handleText answers free text when the reply policy lets it through.
func (h *Handler) handleText(ctx context.Context, req *router.Request) error {
	m := req.Message
	if !m.IsPrivate() && !m.IsGroup() {
		return nil
	}
	rc := reply.Context{
		ChatID:    m.ChatID,
		Private:   m.IsPrivate(),
		ChatTitle: m.ChatTitle,
		UserName:  senderName(m.FromFirstName, m.FromUsername),
	}
	text, ok := h.replies.MaybeReply(ctx, m.Text, rc)
	if !ok {
		return nil
	}
	res := h.deliver.Deliver(ctx, m.ChatID, text)
	if !res.OK() {
		req.Logger.Warn("reply not delivered",
			logx.String("outcome", res.Outcome.Kind.String()),
			logx.Int("attempts", res.Attempts),
			logx.Err(res.Err),
		)
		return nil
	}
	if !rc.Private {
		h.replies.MarkReplied(m.ChatID)
	}
	return nil
}

func senderName(first, username string) string {
	if s := strings.TrimSpace(first); s != "" {
		return s
	}
	return strings.TrimSpace(username)
}
