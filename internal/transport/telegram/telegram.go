package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
)

const Platform = "telegram"

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (default https://api.telegram.org).
	APIURL  string
	Timeout time.Duration
}

// Adapter is a send-only Telegram client. It never polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline skips the getMe round-trip; a bad token surfaces on the first send
	// and is logged as a delivery error like any other.
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Platform() string { return Platform }

// recipient lets telebot address a chat by the raw configured id
// (numeric chat id or "@username").
type recipient string

func (r recipient) Recipient() string { return string(r) }

func parseMode(m kit.ParseMode) tele.ParseMode {
	switch m {
	case kit.ParseMarkdown:
		return tele.ModeMarkdown
	case kit.ParseHTML:
		return tele.ModeHTML
	default:
		return tele.ModeDefault
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.Target, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	rid := strings.TrimSpace(to.RecipientID)
	if rid == "" {
		return kit.MessageRef{}, &kit.DeliveryError{Platform: Platform, Err: errors.New("recipient id is empty")}
	}

	chunks := splitText(text, textLimit, opt.ParseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return first, &kit.DeliveryError{Platform: Platform, Err: err}
			}
		}

		msg, err := a.send(ctx, recipient(rid), chunk, &tele.SendOptions{
			ParseMode:             parseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, &kit.DeliveryError{Platform: Platform, Err: err}
		}
		if i == 0 && msg != nil {
			first = kit.MessageRef{RecipientID: rid, MessageID: strconv.Itoa(msg.ID)}
		}
	}
	a.log.Debug("message sent", logx.String("to", rid), logx.Int("chunks", len(chunks)))
	return first, nil
}

type sendResult struct {
	msg *tele.Message
	err error
}

// send bounds one Bot API call by ctx. telebot does not take a context, so
// an abandoned call finishes in the background under the client timeout.
func (a *Adapter) send(ctx context.Context, to tele.Recipient, text string, opt *tele.SendOptions) (*tele.Message, error) {
	if ctx == nil {
		return a.bot.Send(to, text, opt)
	}
	done := make(chan sendResult, 1)
	go func() {
		msg, err := a.bot.Send(to, text, opt)
		done <- sendResult{msg: msg, err: err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		a.log.Debug("send abandoned", logx.String("to", to.Recipient()), logx.Err(ctx.Err()))
		return nil, ctx.Err()
	}
}
