package config

// Config is the full bot configuration after file decoding, environment
// overlay and defaults.
type Config struct {
	Bot       BotConfig       `json:"bot"`
	Telegram  TelegramConfig  `json:"telegram"`
	Slack     SlackConfig     `json:"slack"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

// BotConfig describes the single recipient and how messages look.
//
// Platform selects the messenger ("telegram" or "slack"). Label is the
// human-readable platform name placed in message text.
type BotConfig struct {
	Platform    string `json:"platform"`
	Label       string `json:"label"`
	RecipientID string `json:"recipient_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
	// ParseMode is one of "plain", "markdown", "html".
	ParseMode  string `json:"parse_mode,omitempty"`
	CounterKey string `json:"counter_key,omitempty"`
	// SendTimeout bounds a single firing. Go duration string.
	SendTimeout string `json:"send_timeout,omitempty"`
	// StartupMessage disables the "scheduler started" notice when false.
	StartupMessage *bool `json:"startup_message,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides https://api.telegram.org (tests, local bot API servers).
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type SlackConfig struct {
	Token   string `json:"token"`
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// SchedulerConfig controls the clock.
//
// Schedule is either a Go duration ("1m", "30s"), an "@every" descriptor or
// a five-field cron expression ("* * * * *").
type SchedulerConfig struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
	// RunOnStart fires once immediately at start. Defaults to true.
	RunOnStart *bool `json:"run_on_start,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./scheduler.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Console defaults to true when omitted.
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards warn+ log lines to a chat through the bot's messenger.
// An empty RecipientID means bot.recipient_id.
type LoggingChat struct {
	Enabled     bool   `json:"enabled"`
	RecipientID string `json:"recipient_id,omitempty"`
	MinLevel    string `json:"min_level,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

func (c LoggingConfig) ConsoleEnabled() bool { return c.Console == nil || *c.Console }

func (c SchedulerConfig) RunOnStartEnabled() bool { return c.RunOnStart == nil || *c.RunOnStart }

func (c BotConfig) StartupMessageEnabled() bool { return c.StartupMessage == nil || *c.StartupMessage }

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Bot.StartupMessage = cloneBool(c.Bot.StartupMessage)
	out.Scheduler.RunOnStart = cloneBool(c.Scheduler.RunOnStart)
	out.Logging.Console = cloneBool(c.Logging.Console)
	return &out
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
