package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalJSON = `{"telegram":{"token":"123:abc"}}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newTestManager(path string, env map[string]string) *Manager {
	m := NewManager(path)
	m.env = func(c *Config) error {
		return applyEnv(c, func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		})
	}
	return m
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", minimalJSON)

	cfg, err := newTestManager(p, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Drip.MinDays)
	assert.Equal(t, 3.0, cfg.Drip.MaxDays)
	assert.Equal(t, 20, cfg.Drip.PerMinuteLimit)
	assert.Equal(t, DefaultDBPath, cfg.Storage.Path)
	assert.Equal(t, DefaultMessagesPath, cfg.Drip.MessagesPath)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Drip.Users.On())
	assert.True(t, cfg.Replies.On())
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
drip:
  min_days: 1
  max_days: 1.5
  per_minute_limit: 10
  sleep_between_sends: 250ms
  groups:
    enabled: false
    batch_size: 5
replies:
  response_chance: 0
  phrases: ["hi {name}"]
timezone: UTC
`)
	cfg, err := newTestManager(p, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, 1.5, cfg.Drip.MaxDays)
	assert.Equal(t, "250ms", cfg.Drip.SleepBetweenSends)
	assert.False(t, cfg.Drip.Groups.On())
	assert.Equal(t, 5, cfg.Drip.Groups.BatchSize)
	require.NotNil(t, cfg.Replies.ResponseChance)
	assert.Zero(t, *cfg.Replies.ResponseChance)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestUnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := newTestManager(writeFile(t, dir, "a.json", `{"telegram":{"token":"x","tokn":"y"}}`), nil).Load()
	require.Error(t, err)

	_, err = newTestManager(writeFile(t, dir, "b.yaml", "telegram:\n  token: x\nextra: 1\n"), nil).Load()
	require.Error(t, err)

	_, err = newTestManager(writeFile(t, dir, "c.json", minimalJSON+`{}`), nil).Load()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"file"},"drip":{"min_days":4,"max_days":5}}`)

	cfg, err := newTestManager(p, map[string]string{
		"BOT_TOKEN":              "env-token",
		"MIN_DAYS":               "0.5",
		"MAX_DAYS":               "1",
		"PER_MINUTE_LIMIT":       "7",
		"SLEEP_BETWEEN_SENDS_MS": "150",
		"TZ":                     "UTC",
		"DB_PATH":                "/tmp/x.db",
		"LOG_LEVEL":              "debug",
		"AI_RESPONSE_CHANCE":     "0.5",
		"MIN_MESSAGE_LENGTH":     "4",
		"RESPONSE_COOLDOWN":      "60",
	}).Load()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, 0.5, cfg.Drip.MinDays)
	assert.Equal(t, 1.0, cfg.Drip.MaxDays)
	assert.Equal(t, 7, cfg.Drip.PerMinuteLimit)
	assert.Equal(t, "150ms", cfg.Drip.SleepBetweenSends)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NotNil(t, cfg.Replies.ResponseChance)
	assert.Equal(t, 0.5, *cfg.Replies.ResponseChance)
	assert.Equal(t, 4, cfg.Replies.MinMessageLength)
	assert.Equal(t, "60s", cfg.Replies.Cooldown)
}

func TestBadEnvValuesFail(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", minimalJSON)

	_, err := newTestManager(p, map[string]string{"MIN_DAYS": "two"}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIN_DAYS")

	_, err = newTestManager(p, map[string]string{"SLEEP_BETWEEN_SENDS_MS": "-1"}).Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "t"}}
		c.ApplyDefaults()
		return c
	}
	require.NoError(t, Validate(valid()))

	chance := 1.5
	cases := map[string]func(c *Config){
		"no token":          func(c *Config) { c.Telegram.Token = "" },
		"min above max":     func(c *Config) { c.Drip.MinDays, c.Drip.MaxDays = 3, 2 },
		"zero min":          func(c *Config) { c.Drip.MinDays = 0 },
		"negative limit":    func(c *Config) { c.Drip.PerMinuteLimit = -1 },
		"bad duration":      func(c *Config) { c.Drip.IdleInterval = "soon" },
		"negative duration": func(c *Config) { c.Replies.Cooldown = "-1s" },
		"bad level":         func(c *Config) { c.Logging.Level = "loud" },
		"bad timezone":      func(c *Config) { c.Timezone = "Mars/Base" },
		"bad group log":     func(c *Config) { c.Telegram.GroupLog = "ops" },
		"chance range":      func(c *Config) { c.Replies.ResponseChance = &chance },
		"report no chat":    func(c *Config) { c.Report.Enabled = true },
		"report bad cron": func(c *Config) {
			c.Telegram.GroupLog = "-100"
			c.Report = ReportConfig{Enabled: true, Cron: "every day"}
		},
		"log sink no chat": func(c *Config) { c.Logging.Telegram.Enabled = true },
	}
	for name, mutate := range cases {
		c := valid()
		mutate(c)
		assert.Error(t, Validate(c), name)
	}
}

func TestGroupLogChatID(t *testing.T) {
	t.Parallel()
	c := &Config{}
	_, ok, err := c.GroupLogChatID()
	require.NoError(t, err)
	assert.False(t, ok)

	c.Telegram.GroupLog = " -1001234 "
	id, ok, err := c.GroupLogChatID()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-1001234), id)
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-2s")
	require.Error(t, err)

	assert.Equal(t, 3*time.Second, DurationOr("3s", time.Second))
	assert.Equal(t, time.Second, DurationOr("", time.Second))
	assert.Equal(t, time.Second, DurationOr("nope", time.Second))
	assert.Equal(t, time.Duration(0), DurationOr("0s", time.Second))
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "t"}}
	a.ApplyDefaults()
	b := *a
	assert.True(t, Diff(a, &b).Empty())

	b.Drip.PerMinuteLimit = 30
	b.Storage.Path = "other.db"
	b.Telegram.Token = "t2"
	ch := Diff(a, &b)
	assert.Equal(t, []string{"telegram", "storage", "drip"}, ch.Sections)
	assert.Equal(t, []string{"telegram", "storage"}, ch.RestartRequired)
	assert.True(t, ch.Has("drip"))
	assert.False(t, ch.Has("replies"))
	assert.NotEmpty(t, ch.Fields)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", minimalJSON)

	m := newTestManager(p, nil)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// The watcher starts asynchronously; rewrite until it notices. Each write
	// restarts the debounce, so give every attempt time to settle.
	var got *Config
	for i := 0; i < 10 && got == nil; i++ {
		require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"token":"123:abc"},"drip":{"per_minute_limit":5}}`), 0o600))
		select {
		case got = <-ch:
		case <-time.After(time.Second):
		}
	}
	require.NotNil(t, got, "no config published")
	assert.Equal(t, 5, got.Drip.PerMinuteLimit)
	assert.Equal(t, 5, m.Get().Drip.PerMinuteLimit)

	// An invalid file is rejected and the last good config stays.
	require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"token":""}}`), 0o600))
	time.Sleep(3 * reloadDebounce)
	assert.Equal(t, 5, m.Get().Drip.PerMinuteLimit)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	t.Parallel()
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
