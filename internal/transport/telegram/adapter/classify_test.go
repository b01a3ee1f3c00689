package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	"dripbot/internal/domain"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want domain.OutcomeKind
	}{
		{"nil", nil, domain.Success},
		{"blocked by user", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, domain.Blocked},
		{"kicked from group", &tele.Error{Code: 403, Description: "Forbidden: bot was kicked from the group chat"}, domain.Blocked},
		{"chat not found", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, domain.Blocked},
		{"migrated", tele.GroupError{MigratedTo: -1001}, domain.Blocked},
		{"bad html", &tele.Error{Code: 400, Description: "Bad Request: can't parse entities"}, domain.InvalidContent},
		{"unknown api error string", errors.New("telegram: Bad Request: message is too long (400)"), domain.InvalidContent},
		{"forbidden api error string", errors.New("telegram: Forbidden: user is deactivated (403)"), domain.Blocked},
		{"server error", errors.New("telegram: Internal Server Error (500)"), domain.TransientFailure},
		{"bad gateway", &tele.Error{Code: 502, Description: "Bad Gateway"}, domain.TransientFailure},
		{"unauthorized", &tele.Error{Code: 401, Description: "Unauthorized"}, domain.InvalidContent},
		{"network", fmt.Errorf("telebot: %w", &net.OpError{Op: "dial", Err: errors.New("connection refused")}), domain.TransientFailure},
		{"deadline", fmt.Errorf("telebot: %w", context.DeadlineExceeded), domain.TransientFailure},
		{"429 without retry_after", &tele.Error{Code: 429, Description: "Too Many Requests"}, domain.RateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err).Kind)
		})
	}
}

func TestClassifyFloodCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	out := Classify(tele.FloodError{RetryAfter: 7})
	assert.Equal(t, domain.RateLimited, out.Kind)
	assert.Equal(t, 7*time.Second, out.RetryAfter)

	out = Classify(tele.FloodError{})
	assert.Equal(t, defaultFloodWait, out.RetryAfter)
}

func TestIsUnauthorized(t *testing.T) {
	t.Parallel()

	assert.True(t, isUnauthorized(&tele.Error{Code: 401, Description: "Unauthorized"}))
	assert.True(t, isUnauthorized(errors.New("telegram: Not Found (404)")))
	assert.False(t, isUnauthorized(errors.New("dial tcp: i/o timeout")))
}

func TestChatKind(t *testing.T) {
	t.Parallel()

	m := toMessage(&tele.Message{
		ID:     1,
		Chat:   &tele.Chat{ID: -5, Type: tele.ChatSuperGroup, Title: "Team"},
		Sender: &tele.User{ID: 9, Username: "ann", FirstName: "Ann"},
		Text:   "hi",
	})
	if assert.NotNil(t, m) {
		assert.True(t, m.IsGroup())
		assert.Equal(t, "Team", m.ChatTitle)
		assert.Equal(t, int64(9), m.FromID)
	}

	assert.Nil(t, toMessage(&tele.Message{Chat: &tele.Chat{ID: 1}}))
	assert.Nil(t, toMessage(nil))
}
