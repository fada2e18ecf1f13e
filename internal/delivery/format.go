package delivery

import (
	"html"
	"strings"
	"time"

	kit "tickbot/internal/transport"
)

const timeLayout = "2006-01-02 15:04:05 MST"

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// telegramMarkup applies Bot API MarkdownV1 and HTML rules.
type telegramMarkup struct{}

func (telegramMarkup) Escape(mode kit.ParseMode, s string) string {
	switch mode {
	case kit.ParseMarkdown:
		return markdownEscaper.Replace(s)
	case kit.ParseHTML:
		return html.EscapeString(s)
	default:
		return s
	}
}

func (f telegramMarkup) Bold(mode kit.ParseMode, s string) string {
	switch mode {
	case kit.ParseMarkdown:
		return "*" + f.Escape(mode, s) + "*"
	case kit.ParseHTML:
		return "<b>" + f.Escape(mode, s) + "</b>"
	default:
		return s
	}
}

// formatterFor picks the messenger's own markup rules when it has them.
func formatterFor(msg kit.Messenger) kit.Formatter {
	if f, ok := msg.(kit.Formatter); ok {
		return f
	}
	return telegramMarkup{}
}

// fireText is the periodic message body.
func fireText(set Settings, f kit.Formatter, at time.Time) string {
	m := set.ParseMode
	return f.Bold(m, "Scheduled message") + "\n" +
		"This is an automated message from the " + f.Escape(m, set.Label) + " bot.\n" +
		"Time: " + f.Escape(m, at.Format(timeLayout))
}

func startupText(set Settings, f kit.Formatter, at time.Time) string {
	m := set.ParseMode
	return f.Bold(m, "Scheduler started") + "\n" +
		f.Escape(m, set.Label) + " bot is online as of " + f.Escape(m, at.Format(timeLayout)) + "."
}

// Log row messages stay plain text regardless of parse mode.
func sentLine(at time.Time) string    { return "Message sent at " + at.Format(timeLayout) }
func startedLine(at time.Time) string { return "Scheduler started at " + at.Format(timeLayout) }
func failedLine(err error) string     { return "Error sending message: " + describe(err) }

func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	return strings.TrimSpace(err.Error())
}
