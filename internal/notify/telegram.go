package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	token    string
	chatID   int64
	endpoint string

	once   sync.Once
	bot    *tgbotapi.BotAPI
	botErr error
}

// NewTelegramSender creates a TelegramSender. The bot is authenticated on
// first use so a bad token does not block startup.
func NewTelegramSender(token, chatID string) (*TelegramSender, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	return &TelegramSender{token: token, chatID: id, endpoint: tgbotapi.APIEndpoint}, nil
}

func (t *TelegramSender) api() (*tgbotapi.BotAPI, error) {
	t.once.Do(func() {
		client := &http.Client{Timeout: 10 * time.Second}
		t.bot, t.botErr = tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, client)
	})
	return t.bot, t.botErr
}

// Send posts msg as MarkdownV2 with the title in bold and values in code
// spans.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.api()
	if err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}

	out := tgbotapi.NewMessage(t.chatID, telegramText(msg))
	out.ParseMode = tgbotapi.ModeMarkdownV2
	out.DisableWebPagePreview = true
	if _, err := bot.Send(out); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func telegramText(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*", tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, msg.Title))
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "\n%s: `%s`",
			tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, f.Name),
			strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(f.Value),
		)
	}
	return b.String()
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
