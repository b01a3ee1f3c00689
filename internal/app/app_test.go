package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dripbot/internal/config"
	"dripbot/internal/delivery"
	"dripbot/internal/domain"
	"dripbot/internal/drip"
	"dripbot/internal/reply"
	"dripbot/internal/runtime/supervisor"
	"dripbot/internal/storage"
	logx "dripbot/pkg/logx"
	"dripbot/pkg/systemd"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{Telegram: config.TelegramConfig{Token: "123:abc"}}
	c.ApplyDefaults()
	require.NoError(t, config.Validate(c))
	return c
}

func TestDripParamsDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)

	u := dripParams(cfg, domain.Individual)
	assert.Equal(t, 2.0, u.MinDays)
	assert.Equal(t, 3.0, u.MaxDays)
	assert.Equal(t, 20, u.BatchSize)
	assert.Equal(t, 20, u.PerWindow)
	assert.Equal(t, time.Minute, u.Window)
	assert.Equal(t, 100*time.Millisecond, u.Pacing)
	assert.Equal(t, 2*time.Second, u.PostBatch)
	assert.Equal(t, 30*time.Second, u.Idle)
	assert.Equal(t, 10*time.Second, u.DrainGrace)

	g := dripParams(cfg, domain.Group)
	assert.Equal(t, defaultGroupBatch, g.BatchSize)
	assert.Equal(t, 5*time.Second, g.PostBatch)
}

func TestDripParamsOverrides(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Drip.PerMinuteLimit = 7
	cfg.Drip.SleepBetweenSends = "0s"
	cfg.Drip.IdleInterval = "1m"
	cfg.Drip.Groups = config.DripClassConfig{BatchSize: 3, PostBatchSleep: "9s"}

	u := dripParams(cfg, domain.Individual)
	assert.Equal(t, 7, u.BatchSize)
	assert.Equal(t, 7, u.PerWindow)
	assert.Zero(t, u.Pacing)
	assert.Equal(t, time.Minute, u.Idle)

	g := dripParams(cfg, domain.Group)
	assert.Equal(t, 3, g.BatchSize)
	assert.Equal(t, 7, g.PerWindow)
	assert.Equal(t, 9*time.Second, g.PostBatch)
}

func TestDeliveryConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	assert.Equal(t, delivery.DefaultConfig(), deliveryConfig(cfg))

	cfg.Drip.MaxAttempts = 5
	cfg.Drip.TransientDelay = "500ms"
	d := deliveryConfig(cfg)
	assert.Equal(t, 5, d.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, d.TransientDelay)
	assert.Equal(t, delivery.DefaultConfig().RateLimitPad, d.RateLimitPad)
}

func TestReplyPolicy(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	assert.Equal(t, reply.DefaultPolicy(), replyPolicy(cfg))
	assert.Equal(t, defaultPhrases, replyPhrases(cfg))

	off, zero := false, 0.0
	cfg.Replies = config.RepliesConfig{
		Enabled:          &off,
		ResponseChance:   &zero,
		MinMessageLength: 3,
		Cooldown:         "10s",
		Fallback:         "  what?  ",
		Phrases:          []string{"yo {name}"},
	}
	p := replyPolicy(cfg)
	assert.False(t, p.Enabled)
	assert.Zero(t, p.Chance)
	assert.Equal(t, 3, p.MinLength)
	assert.Equal(t, 10*time.Second, p.Cooldown)
	assert.Equal(t, "what?", p.Fallback)
	assert.Equal(t, []string{"yo {name}"}, replyPhrases(cfg))
}

func TestSinkAndReportTargets(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Telegram.GroupLog = "-100123"
	cfg.Timezone = "UTC"
	cfg.Logging.Telegram = config.LoggingTelegram{Enabled: true, ThreadID: 4}
	cfg.Report = config.ReportConfig{Enabled: true}

	l := logConfig(cfg)
	assert.True(t, l.Telegram.Enabled)
	assert.Equal(t, int64(-100123), l.Telegram.ChatID)
	assert.Equal(t, 4, l.Telegram.ThreadID)

	r := reportConfig(cfg)
	assert.True(t, r.Enabled)
	assert.Equal(t, int64(-100123), r.ChatID)
	assert.Equal(t, 4, r.ThreadID)
	assert.Equal(t, "UTC", r.Timezone, "falls back to the display timezone")

	cfg.Report.Timezone = "Etc/GMT-3"
	assert.Equal(t, "Etc/GMT-3", reportConfig(cfg).Timezone)
}

func TestMetricsAddr(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	assert.Equal(t, "127.0.0.1:9464", metricsAddr(cfg))
	cfg.Metrics.Addr = ":9100"
	assert.Equal(t, ":9100", metricsAddr(cfg))
}

type idleDeliverer struct{}

func (idleDeliverer) Deliver(context.Context, int64, string) delivery.Result {
	return delivery.Result{}
}

// newReloadApp wires only what applyConfig touches for drip and reply
// changes.
func newReloadApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "users.db")}, logx.Nop())
	require.NoError(t, err)

	phrases := reply.NewPhrases(replyPhrases(cfg), nil)
	a := &App{
		log:     logx.Nop(),
		store:   st,
		scheds:  map[domain.Class]*drip.Scheduler{},
		runs:    map[domain.Class]*supervisor.Supervisor{},
		phrases: phrases,
		replies: reply.New(replyPolicy(cfg), phrases, logx.Nop()),
		notify:  systemd.New(),
		sup:     supervisor.New(context.Background()),
	}
	msgs := domain.NewMessages([]string{"a", "b"})
	for _, class := range domain.Classes() {
		a.scheds[class] = drip.New(class, st.Recipients(class), idleDeliverer{}, msgs, dripParams(cfg, class), drip.Options{})
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, class := range domain.Classes() {
			_ = a.stopScheduler(ctx, class)
		}
		_ = a.sup.Stop(ctx)
		_ = st.Close()
	})
	return a
}

func TestApplyConfigTogglesSchedulersAndParams(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	a := newReloadApp(t, cfg)
	a.startScheduler(domain.Individual)
	a.startScheduler(domain.Group)
	require.Equal(t, []string{"individual", "group"}, a.runningClasses())

	next := *cfg
	off, zero := false, 0.0
	next.Drip.PerMinuteLimit = 5
	next.Drip.Groups = config.DripClassConfig{Enabled: &off}
	next.Replies.ResponseChance = &zero

	a.applyConfig(context.Background(), cfg, &next)

	assert.Equal(t, []string{"individual"}, a.runningClasses())
	assert.Equal(t, 5, a.scheds[domain.Individual].Params().PerWindow)
	assert.Equal(t, 5, a.scheds[domain.Group].Params().PerWindow)
	assert.Zero(t, a.replies.Policy().Chance)

	// Turning the class back on restarts its loop.
	again := next
	again.Drip.Groups = config.DripClassConfig{}
	a.applyConfig(context.Background(), &next, &again)
	assert.Equal(t, []string{"individual", "group"}, a.runningClasses())
}

func TestStepHonorsDeadline(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop()}

	ran := false
	a.step(context.Background(), "quick", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)

	start := time.Now()
	release := make(chan struct{})
	defer close(release)
	a.step(context.Background(), "stuck", 50*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	assert.Less(t, time.Since(start), 2*time.Second)

	a.step(context.Background(), "panics", time.Second, func(context.Context) error {
		panic("boom")
	})
}
