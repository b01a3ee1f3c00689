package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "dripbot/internal/transport"
)

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("x")), Duration("d", time.Second))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.Equal(t, float64(3), m["n"])
	assert.Equal(t, "x", m["err"])
	assert.Contains(t, m["caller"], "logx_test.go")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info("dropped")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]Level{
		"trace": LevelTrace, "DEBUG": LevelDebug, " info ": LevelInfo,
		"warning": LevelWarn, "error": LevelError, "bogus": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in, LevelInfo), in)
	}
	assert.True(t, ValidLevel("warn"))
	assert.False(t, ValidLevel("loud"))
}

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","message":"send failed","time":"now","chat":"42","attempts":3}`)
	got := formatTelegramLine(line)
	assert.Equal(t, "[ERROR] send failed\n- attempts=3\n- chat=42", got)
	assert.Equal(t, "raw text", formatTelegramLine([]byte("  raw text \n")))
}

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestTelegramSinkMirrorsWarnings(t *testing.T) {
	sender := &captureSender{}
	svc, log := NewService(Config{
		Level: "info",
		Telegram: TelegramConfig{
			Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 100,
		},
	}, sender)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	require.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Contains(t, sender.sent[0], "[WARN] loud")
	assert.Equal(t, int64(-100), sender.to[0].ChatID)
}
