package slack

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
)

const Platform = "slack"

type Config struct {
	Token string
	// APIURL overrides the Web API base (default https://slack.com/api/).
	APIURL  string
	Timeout time.Duration
}

// Adapter posts messages through the Slack Web API (chat.postMessage).
type Adapter struct {
	log    logx.Logger
	client *slack.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: timeout})}
	if u := strings.TrimSpace(cfg.APIURL); u != "" {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slack.OptionAPIURL(u))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log, client: slack.New(cfg.Token, opts...)}, nil
}

func (a *Adapter) Platform() string { return Platform }

// Slack reads &, < and > as control characters in every mode. Backslashes
// are not escapes in mrkdwn and would show up verbatim.
var controlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func (a *Adapter) Escape(_ kit.ParseMode, s string) string { return controlEscaper.Replace(s) }

// Bold uses mrkdwn asterisks. HTML mode gets them too since Slack has no
// tag markup.
func (a *Adapter) Bold(mode kit.ParseMode, s string) string {
	if mode == kit.ParsePlain {
		return a.Escape(mode, s)
	}
	return "*" + a.Escape(mode, s) + "*"
}

func (a *Adapter) SendText(ctx context.Context, to kit.Target, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	channel := strings.TrimSpace(to.RecipientID)
	if channel == "" {
		return kit.MessageRef{}, &kit.DeliveryError{Platform: Platform, Err: errors.New("recipient id is empty")}
	}

	msgOpts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	// Slack renders mrkdwn by default. HTML mode is treated as mrkdwn.
	if opt.ParseMode == kit.ParsePlain {
		msgOpts = append(msgOpts, slack.MsgOptionDisableMarkdown())
	}
	if opt.DisablePreview {
		msgOpts = append(msgOpts, slack.MsgOptionDisableLinkUnfurl(), slack.MsgOptionDisableMediaUnfurl())
	}

	ch, ts, err := a.client.PostMessageContext(ctx, channel, msgOpts...)
	if err != nil {
		return kit.MessageRef{}, &kit.DeliveryError{Platform: Platform, Err: err}
	}
	a.log.Debug("message sent", logx.String("to", ch), logx.String("ts", ts))
	return kit.MessageRef{RecipientID: ch, MessageID: ts}, nil
}
