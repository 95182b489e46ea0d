package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "pomotick/pkg/logx"
)

// telegramTextLimit is the Bot API message size limit.
const telegramTextLimit = 4096

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// TelegramSink posts messages to one chat. It only sends; no updates are
// polled.
type TelegramSink struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot
}

func NewTelegramSink(cfg TelegramConfig, log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSink{cfg: cfg, log: log, bot: b}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, m Message) error {
	return t.sendText(ctx, prefixForPriority(m.Priority)+m.Text)
}

// ForwardAlert implements logx.Forwarder. It must not log through the
// forwarding logger on failure.
func (t *TelegramSink) ForwardAlert(ctx context.Context, text string) error {
	return t.sendText(ctx, text)
}

func (t *TelegramSink) sendText(ctx context.Context, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(text) > telegramTextLimit {
		text = strings.ToValidUTF8(text[:telegramTextLimit-3], "") + "..."
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              t.cfg.ThreadID,
	})
	return err
}
