package config

import (
	"sort"
	"strings"

	logx "tickbot/pkg/logx"
)

// Change summarizes how two configs differ.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe structured fields for logging (never includes tokens).
	Attrs []logx.Field
	// RestartRequired lists changed keys that only take effect after a restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg and newCfg.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ob, nb := oldCfg.Bot, newCfg.Bot
	if ob.Label != nb.Label || ob.RecipientID != nb.RecipientID || ob.ThreadID != nb.ThreadID ||
		ob.ParseMode != nb.ParseMode || ob.CounterKey != nb.CounterKey || ob.SendTimeout != nb.SendTimeout ||
		ob.StartupMessageEnabled() != nb.StartupMessageEnabled() || ob.Platform != nb.Platform {
		ch.Sections = append(ch.Sections, "bot")
		ch.Attrs = append(ch.Attrs,
			logx.String("bot.label", nb.Label),
			logx.String("bot.parse_mode", nb.ParseMode),
			logx.Bool("bot.recipient_changed", ob.RecipientID != nb.RecipientID),
		)
		if ob.Platform != nb.Platform {
			ch.RestartRequired = append(ch.RestartRequired, "bot.platform")
		}
	}

	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL || oldCfg.Telegram.Timeout != newCfg.Telegram.Timeout {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Attrs = append(ch.Attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
		ch.RestartRequired = append(ch.RestartRequired, "telegram")
	}
	if strings.TrimSpace(oldCfg.Slack.Token) != strings.TrimSpace(newCfg.Slack.Token) ||
		oldCfg.Slack.APIURL != newCfg.Slack.APIURL || oldCfg.Slack.Timeout != newCfg.Slack.Timeout {
		ch.Sections = append(ch.Sections, "slack")
		ch.Attrs = append(ch.Attrs, logx.Bool("slack.token_set", strings.TrimSpace(newCfg.Slack.Token) != ""))
		ch.RestartRequired = append(ch.RestartRequired, "slack")
	}

	osc, nsc := oldCfg.Scheduler, newCfg.Scheduler
	if osc.Schedule != nsc.Schedule || osc.Timezone != nsc.Timezone || osc.RunOnStartEnabled() != nsc.RunOnStartEnabled() {
		ch.Sections = append(ch.Sections, "scheduler")
		ch.Attrs = append(ch.Attrs,
			logx.String("scheduler.schedule", nsc.Schedule),
			logx.String("scheduler.timezone", nsc.Timezone),
		)
		// The timezone also shapes message timestamps, which reload live.
		if osc.Schedule != nsc.Schedule || osc.RunOnStartEnabled() != nsc.RunOnStartEnabled() {
			ch.RestartRequired = append(ch.RestartRequired, "scheduler.schedule")
		}
	}

	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
		ch.RestartRequired = append(ch.RestartRequired, "storage")
	}

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level || ol.ConsoleEnabled() != nl.ConsoleEnabled() || ol.File != nl.File || ol.Chat != nl.Chat {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.ConsoleEnabled()),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.chat_enabled", nl.Chat.Enabled),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}
