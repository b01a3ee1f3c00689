package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"dripbot/internal/domain"
	kit "dripbot/internal/transport"
)

func TestSplitShortTextIsUntouched(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hello"}, splitTelegramText("hello", 10, ""))
}

func TestSplitRespectsLimit(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 9500)
	chunks := splitTelegramText(s, telegramTextLimit, "")
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), telegramTextLimit)
	}
	assert.Equal(t, s, strings.Join(chunks, ""))
}

func TestSplitPrefersNewlines(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	chunks := splitTelegramText(s, 10, "")
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, chunks)
}

func TestSplitAvoidsCuttingHTMLTags(t *testing.T) {
	t.Parallel()

	s := "abcdef<b>bold</b>"
	chunks := splitTelegramText(s, 8, "HTML")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "abcdef", chunks[0])
	assert.Equal(t, s, strings.Join(chunks, ""))
}

type sentMessage struct {
	chatID int64
	text   string
	opts   *tele.SendOptions
}

// recordingAPI stores every outgoing message and fails the call numbers
// listed in failOn.
type recordingAPI struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[int]error
}

func (r *recordingAPI) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := sentMessage{chatID: to.(*tele.Chat).ID, text: what.(string)}
	if len(opts) > 0 {
		m.opts, _ = opts[0].(*tele.SendOptions)
	}
	r.sent = append(r.sent, m)
	if err := r.failOn[len(r.sent)]; err != nil {
		return nil, err
	}
	return &tele.Message{}, nil
}

func TestSendKeepsDripBodyInOneMessage(t *testing.T) {
	t.Parallel()

	api := &recordingAPI{}
	a := &Adapter{api: api}
	body := "<b>" + strings.Repeat("long line\n", 900) + "</b>"
	require.Greater(t, utf8.RuneCountInString(body), telegramTextLimit)

	out := a.Send(context.Background(), 77, body)
	assert.Equal(t, domain.Success, out.Kind)
	require.Len(t, api.sent, 1)
	assert.Equal(t, body, api.sent[0].text)
	assert.Equal(t, int64(77), api.sent[0].chatID)
	require.NotNil(t, api.sent[0].opts)
	assert.Equal(t, tele.ModeHTML, api.sent[0].opts.ParseMode)
	assert.True(t, api.sent[0].opts.DisableWebPagePreview)
}

func TestSendFailureIsOneAttempt(t *testing.T) {
	t.Parallel()

	api := &recordingAPI{failOn: map[int]error{1: tele.FloodError{RetryAfter: 3}}}
	a := &Adapter{api: api}

	out := a.Send(context.Background(), 5, strings.Repeat("x", 2*telegramTextLimit))
	assert.Equal(t, domain.RateLimited, out.Kind)
	assert.Len(t, api.sent, 1)
}

func TestSendSkipsCancelledContext(t *testing.T) {
	t.Parallel()

	api := &recordingAPI{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := (&Adapter{api: api}).Send(ctx, 5, "hi")
	assert.NotEqual(t, domain.Success, out.Kind)
	assert.Empty(t, api.sent)
}

func TestSendTextStillSplits(t *testing.T) {
	t.Parallel()

	api := &recordingAPI{}
	a := &Adapter{api: api}
	text := strings.Repeat("é", telegramTextLimit+10)

	require.NoError(t, a.SendText(context.Background(), kit.ChatTarget{ChatID: 1, ThreadID: 9}, text, nil))
	require.Len(t, api.sent, 2)
	assert.Equal(t, text, api.sent[0].text+api.sent[1].text)
	assert.Equal(t, 9, api.sent[1].opts.ThreadID)

	api.failOn = map[int]error{3: errors.New("boom")}
	assert.Error(t, a.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, text, nil))
}
