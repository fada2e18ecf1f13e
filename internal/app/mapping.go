package app

import (
	"fmt"
	"strings"
	"time"

	"tickbot/internal/config"
	"tickbot/internal/delivery"
	"tickbot/internal/storage"
	kit "tickbot/internal/transport"
	"tickbot/internal/transport/slack"
	"tickbot/internal/transport/telegram"
	logx "tickbot/pkg/logx"
)

// StorageConfig maps storage settings. enabled is false for driver "none".
func StorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// logConfig maps logging settings. The chat sink defaults to the bot's own
// recipient.
func logConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	to := strings.TrimSpace(lc.Chat.RecipientID)
	if to == "" {
		to = cfg.Bot.RecipientID
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:     lc.Chat.Enabled,
			RecipientID: to,
			MinLevel:    lc.Chat.MinLevel,
			RatePerSec:  lc.Chat.RatePerSec,
		},
	}
}

func deliverySettings(cfg *config.Config) (delivery.Settings, error) {
	mode, err := kit.ParseParseMode(cfg.Bot.ParseMode)
	if err != nil {
		return delivery.Settings{}, fmt.Errorf("bot.parse_mode: %w", err)
	}
	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return delivery.Settings{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	timeout, err := config.ParseDurationField("bot.send_timeout", cfg.Bot.SendTimeout)
	if err != nil {
		return delivery.Settings{}, err
	}
	return delivery.Settings{
		Label:       cfg.Bot.Label,
		Target:      kit.Target{RecipientID: strings.TrimSpace(cfg.Bot.RecipientID), ThreadID: cfg.Bot.ThreadID},
		ParseMode:   mode,
		CounterKey:  cfg.Bot.CounterKey,
		Location:    loc,
		SendTimeout: timeout,
	}, nil
}

func newMessenger(cfg *config.Config, log logx.Logger) (kit.Messenger, error) {
	switch cfg.Bot.Platform {
	case config.PlatformTelegram:
		timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:   cfg.Telegram.Token,
			APIURL:  cfg.Telegram.APIURL,
			Timeout: timeout,
		}, log.With(logx.String("comp", "telegram")))
	case config.PlatformSlack:
		timeout, err := config.ParseDurationOrDefault("slack.timeout", cfg.Slack.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return slack.New(slack.Config{
			Token:   cfg.Slack.Token,
			APIURL:  cfg.Slack.APIURL,
			Timeout: timeout,
		}, log.With(logx.String("comp", "slack")))
	default:
		return nil, fmt.Errorf("unknown bot.platform %q", cfg.Bot.Platform)
	}
}
