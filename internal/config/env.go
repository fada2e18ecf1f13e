package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
)

const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"

	DefaultSchedule   = "1m"
	DefaultDBPath     = "./scheduler.db"
	DefaultDriver     = "sqlite"
	DefaultCounterKey = "scheduled_messages"
	DefaultLevel      = "info"
	DefaultParseMode  = "markdown"
)

var (
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrMissingRecipient = errors.New("bot.recipient_id is required (CHAT_ID)")
	ErrMissingToken     = errors.New("bot token is required")
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	key string
	set func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"BOT_PLATFORM", func(c *Config, v string) error { c.Bot.Platform = v; return nil }},
	{"PLATFORM_NAME", func(c *Config, v string) error { c.Bot.Label = v; return nil }},
	{"CHAT_ID", func(c *Config, v string) error { c.Bot.RecipientID = v; return nil }},
	{"THREAD_ID", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("THREAD_ID: %w", err)
		}
		c.Bot.ThreadID = n
		return nil
	}},
	{"PARSE_MODE", func(c *Config, v string) error { c.Bot.ParseMode = v; return nil }},
	{"TELEGRAM_BOT_TOKEN", func(c *Config, v string) error { c.Telegram.Token = v; return nil }},
	{"SLACK_BOT_TOKEN", func(c *Config, v string) error { c.Slack.Token = v; return nil }},
	{"SCHEDULE", func(c *Config, v string) error { c.Scheduler.Schedule = v; return nil }},
	{"TIMEZONE", func(c *Config, v string) error { c.Scheduler.Timezone = v; return nil }},
	{"DATABASE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
}

// ApplyEnv overlays environment variables onto cfg. Set variables win over
// file values; empty variables are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDefaults fills omitted fields. Credentials never get a default.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Bot.Platform = strings.ToLower(strings.TrimSpace(cfg.Bot.Platform))
	if cfg.Bot.Platform == "" {
		cfg.Bot.Platform = PlatformTelegram
	}
	if strings.TrimSpace(cfg.Bot.Label) == "" {
		switch cfg.Bot.Platform {
		case PlatformSlack:
			cfg.Bot.Label = "Slack"
		default:
			cfg.Bot.Label = "Telegram"
		}
	}
	if strings.TrimSpace(cfg.Bot.ParseMode) == "" {
		cfg.Bot.ParseMode = DefaultParseMode
	}
	if strings.TrimSpace(cfg.Bot.CounterKey) == "" {
		cfg.Bot.CounterKey = DefaultCounterKey
	}
	if strings.TrimSpace(cfg.Scheduler.Schedule) == "" {
		cfg.Scheduler.Schedule = DefaultSchedule
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = DefaultDriver
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = DefaultDBPath
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = DefaultLevel
	}
}

// Validate checks a config after defaults were applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch cfg.Bot.Platform {
	case PlatformTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("%w: telegram.token (TELEGRAM_BOT_TOKEN)", ErrMissingToken))
		}
	case PlatformSlack:
		if strings.TrimSpace(cfg.Slack.Token) == "" {
			errs = append(errs, fmt.Errorf("%w: slack.token (SLACK_BOT_TOKEN)", ErrMissingToken))
		}
	default:
		errs = append(errs, fmt.Errorf("bot.platform: unknown platform %q", cfg.Bot.Platform))
	}
	if strings.TrimSpace(cfg.Bot.RecipientID) == "" {
		errs = append(errs, ErrMissingRecipient)
	}
	if _, err := kit.ParseParseMode(cfg.Bot.ParseMode); err != nil {
		errs = append(errs, fmt.Errorf("bot.parse_mode: %w", err))
	}
	for _, f := range [][2]string{
		{"bot.send_timeout", cfg.Bot.SendTimeout},
		{"telegram.timeout", cfg.Telegram.Timeout},
		{"slack.timeout", cfg.Slack.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f[0], f[1]); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := LoadLocation(cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "file", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Chat.MinLevel != "" && !logx.ValidLevel(cfg.Logging.Chat.MinLevel) {
		errs = append(errs, fmt.Errorf("logging.chat.min_level: unknown level %q", cfg.Logging.Chat.MinLevel))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}
	return errors.Join(errs...)
}

// LoadLocation resolves a timezone name. Empty and "local" mean time.Local.
func LoadLocation(name string) (*time.Location, error) {
	s := strings.TrimSpace(name)
	if s == "" || strings.EqualFold(s, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s)
}

// ParseDurationField parses a timeout field. Empty means 0. A bare integer
// is taken as seconds ("30" == "30s"), a common shape for env values.
// Negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: %w %q (use 30s, 1m or plain seconds)", path, ErrInvalidDuration, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %w: must be >= 0", path, ErrInvalidDuration)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
