package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the environment variables the bot has always honoured.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error
	float := func(k string, dst *float64) {
		if v, ok := get(k); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = f
		}
	}
	integer := func(k string, dst *int) {
		if v, ok := get(k); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = n
		}
	}

	if v, ok := get("BOT_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("DB_PATH"); ok {
		cfg.Storage.Path = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("TZ"); ok {
		cfg.Timezone = v
	}
	float("MIN_DAYS", &cfg.Drip.MinDays)
	float("MAX_DAYS", &cfg.Drip.MaxDays)
	integer("PER_MINUTE_LIMIT", &cfg.Drip.PerMinuteLimit)

	if v, ok := get("SLEEP_BETWEEN_SENDS_MS"); ok {
		ms, err := strconv.Atoi(v)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("SLEEP_BETWEEN_SENDS_MS: %w", err))
		case ms < 0:
			errs = append(errs, errors.New("SLEEP_BETWEEN_SENDS_MS: must be >= 0"))
		default:
			cfg.Drip.SleepBetweenSends = strconv.Itoa(ms) + "ms"
		}
	}
	if v, ok := get("AI_RESPONSE_CHANCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("AI_RESPONSE_CHANCE: %w", err))
		} else {
			cfg.Replies.ResponseChance = &f
		}
	}
	integer("MIN_MESSAGE_LENGTH", &cfg.Replies.MinMessageLength)
	if v, ok := get("RESPONSE_COOLDOWN"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RESPONSE_COOLDOWN: %w", err))
		} else {
			cfg.Replies.Cooldown = strconv.Itoa(n) + "s"
		}
	}
	return errors.Join(errs...)
}
