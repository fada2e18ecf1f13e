package transport

import (
	"context"
	"fmt"
	"strings"
)

// ParseMode selects the text markup the platform applies to a message.
type ParseMode string

const (
	ParsePlain    ParseMode = ""
	ParseMarkdown ParseMode = "markdown"
	ParseHTML     ParseMode = "html"
)

// ParseParseMode maps a config value onto a ParseMode.
func ParseParseMode(s string) (ParseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain", "none", "text":
		return ParsePlain, nil
	case "markdown", "md", "richtext":
		return ParseMarkdown, nil
	case "html":
		return ParseHTML, nil
	default:
		return ParsePlain, fmt.Errorf("unknown parse mode %q", s)
	}
}

// Target is the single recipient of a message.
//
// RecipientID is opaque: a numeric Telegram chat id, an "@channel" username
// or a Slack channel id.
type Target struct {
	RecipientID string
	ThreadID    int // telegram forum topic (0 if none)
}

type MessageRef struct {
	RecipientID string
	MessageID   string
}

type SendOptions struct {
	ParseMode      ParseMode
	DisablePreview bool
}

// Messenger is the outbound capability the bot needs from a chat platform.
type Messenger interface {
	// Platform returns a short platform name ("telegram", "slack").
	Platform() string
	SendText(ctx context.Context, to Target, text string, opt *SendOptions) (MessageRef, error)
}

// Formatter is implemented by messengers whose markup differs from
// Telegram's. Callers without one use Telegram rules.
type Formatter interface {
	// Escape makes s literal under mode.
	Escape(mode ParseMode, s string) string
	Bold(mode ParseMode, s string) string
}

// DeliveryError reports that a platform rejected or could not complete a send.
type DeliveryError struct {
	Platform string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e == nil || e.Err == nil {
		return "delivery failed"
	}
	return e.Platform + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }
