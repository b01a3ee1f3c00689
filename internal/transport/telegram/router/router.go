// Package router turns inbound chat updates into command and free-text
// handler calls, executed on a bounded worker pool.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dripbot/internal/runtime/supervisor"
	kit "dripbot/internal/transport"
	logx "dripbot/pkg/logx"
)

// Scope restricts where a command may be used.
type Scope int

const (
	ScopeAny Scope = iota
	ScopePrivate
	ScopeGroup
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Scope       Scope
	OwnerOnly   bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request carries one routed message.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	Command string // empty for free text
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Sender  kit.Sender
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Reply sends plain text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
}

// ReplyHTML sends HTML-formatted text back to the originating chat.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	return r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	// Texts used for routing failures.
	UnknownCommand string
	GroupOnly      string
	PrivateOnly    string
	Unauthorized   string
	Busy           string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.UnknownCommand == "" {
		o.UnknownCommand = "Unknown command. Try /help"
	}
	if o.GroupOnly == "" {
		o.GroupOnly = "This command only works in groups."
	}
	if o.PrivateOnly == "" {
		o.PrivateOnly = "This command only works in a private chat."
	}
	if o.Unauthorized == "" {
		o.Unauthorized = "unauthorized"
	}
	if o.Busy == "" {
		o.Busy = "busy, try again"
	}
	return o
}

type Router struct {
	log    logx.Logger
	sender kit.Sender
	opt    Options

	mu       sync.RWMutex
	cmds     map[string]Command // name and aliases
	ordered  []Command
	text     HandlerFunc
	owners   []int64
	botNames map[string]bool

	jobs chan func()
}

func New(log logx.Logger, sender kit.Sender, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	opt = opt.withDefaults()
	return &Router{
		log:    log.With(logx.String("comp", "router")),
		sender: sender,
		opt:    opt,
		cmds:   map[string]Command{},
		jobs:   make(chan func(), opt.QueueSize),
	}
}

// SetCommands replaces the command registry.
func (r *Router) SetCommands(cmds []Command) {
	idx := map[string]Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		idx[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				idx[a] = c
			}
		}
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	r.mu.Lock()
	r.cmds = idx
	r.ordered = ordered
	r.mu.Unlock()
}

// SetTextHandler handles messages that are not commands.
func (r *Router) SetTextHandler(h HandlerFunc) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// SetOwners replaces the owner ids allowed to run OwnerOnly commands.
func (r *Router) SetOwners(ids []int64) {
	cp := append([]int64(nil), ids...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetBotUsername lets "/cmd@name" target only this bot in groups.
func (r *Router) SetBotUsername(name string) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	r.mu.Lock()
	if name == "" {
		r.botNames = nil
	} else {
		r.botNames = map[string]bool{name: true}
	}
	r.mu.Unlock()
}

// Commands returns the registry sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.ordered...)
}

// UpdateMenu publishes the command menu if the sender supports it.
func (r *Router) UpdateMenu(ctx context.Context) error {
	up, ok := r.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, menuCommands(r.Commands()))
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("queue", cap(r.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	job, req := r.route(up)
	if job == nil {
		return
	}
	select {
	case r.jobs <- func() { _ = job(ctx, req) }:
	default:
		if req.Command != "" {
			_ = req.Reply(ctx, r.opt.Busy)
		}
		r.log.Warn("dispatch queue full; update dropped", logx.Int64("chat_id", req.Chat.ChatID))
	}
}

// HandleUpdate routes and runs one update on the calling goroutine.
func (r *Router) HandleUpdate(ctx context.Context, up kit.Update) error {
	job, req := r.route(up)
	if job == nil {
		return nil
	}
	return job(ctx, req)
}

// route resolves the handler for up. A nil handler means ignore.
func (r *Router) route(up kit.Update) (HandlerFunc, *Request) {
	msg := up.Message
	if msg == nil || msg.FromIsBot {
		return nil, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, nil
	}

	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		ReqID:   newReqID(),
		Sender:  r.sender,
	}

	r.mu.RLock()
	textHandler := r.text
	owners := r.owners
	botNames := r.botNames
	r.mu.RUnlock()

	name, args, isCmd := parseCommand(text)
	if !isCmd {
		if textHandler == nil {
			return nil, nil
		}
		req.Logger = r.log.With(logx.String("rid", req.ReqID), logx.Int64("chat_id", msg.ChatID))
		return wrap(textHandler, withRecover(r.log), withDeadline(r.opt.DefaultTimeout)), req
	}

	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if len(botNames) > 0 && !botNames[target] {
			return nil, nil
		}
	}

	r.mu.RLock()
	cmd, ok := r.cmds[name]
	r.mu.RUnlock()

	req.Command = name
	req.Args = args
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", name),
	)

	switch {
	case !ok:
		// Groups often host several bots; stay quiet there.
		if msg.IsGroup() {
			return nil, nil
		}
		return replyWith(r.opt.UnknownCommand), req
	case cmd.OwnerOnly && !isOwner(msg.FromID, owners):
		return replyWith(r.opt.Unauthorized), req
	case cmd.Scope == ScopeGroup && !msg.IsGroup():
		return replyWith(r.opt.GroupOnly), req
	case cmd.Scope == ScopePrivate && !msg.IsPrivate():
		return replyWith(r.opt.PrivateOnly), req
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.opt.DefaultTimeout
	}
	return wrap(cmd.Handle, withRecover(r.log), withTiming(r.log), withDeadline(timeout)), req
}

func replyWith(text string) HandlerFunc {
	return func(ctx context.Context, req *Request) error { return req.Reply(ctx, text) }
}

// parseCommand splits "/name@bot a b" into ("name@bot", ["a","b"], true).
func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// IsCommand reports whether text looks like a bot command.
func IsCommand(text string) bool {
	_, _, ok := parseCommand(strings.TrimSpace(text))
	return ok
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
