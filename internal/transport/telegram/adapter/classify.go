package adapter

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"dripbot/internal/domain"
)

// defaultFloodWait applies when a 429 carries no retry_after.
const defaultFloodWait = 5 * time.Second

// telebot reports API errors it has no sentinel for as
// "telegram: <description> (<code>)".
var apiErrRe = regexp.MustCompile(`telegram: (.*) \((\d{3})\)`)

// unreachable marks descriptions that mean the chat is gone for good even
// though Telegram answers 400.
var unreachable = []string{
	"chat not found",
	"group chat was upgraded",
	"bot was kicked",
	"user is deactivated",
	"have no rights to send",
	"not enough rights to send",
}

// Classify maps a telebot send error onto a delivery outcome.
func Classify(err error) domain.Outcome {
	if err == nil {
		return domain.Delivered()
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		wait := time.Duration(flood.RetryAfter) * time.Second
		if wait <= 0 {
			wait = defaultFloodWait
		}
		return domain.Throttled(wait, err)
	}
	var migrated tele.GroupError
	if errors.As(err, &migrated) {
		return domain.Unreachable(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(err)
	}

	code, desc := apiError(err)
	return classifyAPI(code, desc, err)
}

func apiError(err error) (int, string) {
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code, te.Description
	}
	if m := apiErrRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[2])
		return code, m[1]
	}
	return 0, ""
}

func classifyAPI(code int, desc string, err error) domain.Outcome {
	d := strings.ToLower(desc)
	switch {
	case code == 0:
		// Not an API answer: network, timeout or decoding trouble.
		return domain.Transient(err)
	case code == http.StatusTooManyRequests:
		return domain.Throttled(defaultFloodWait, err)
	case code == http.StatusForbidden:
		return domain.Unreachable(err)
	case code >= 500:
		return domain.Transient(err)
	}
	for _, s := range unreachable {
		if strings.Contains(d, s) {
			return domain.Unreachable(err)
		}
	}
	if code >= 400 {
		// Includes 401/404 (bad token): not the recipient's fault, so it
		// must not deactivate anyone.
		return domain.Rejected(err)
	}
	return domain.Transient(err)
}

func isUnauthorized(err error) bool {
	code, _ := apiError(err)
	if code == http.StatusUnauthorized || code == http.StatusNotFound {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unauthorized")
}
