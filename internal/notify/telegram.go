package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
)

// TelegramNotifier sends workflow messages through the Telegram Bot API.
type TelegramNotifier struct {
	bot *bot.Bot
}

// NewTelegramNotifier builds a notifier from a bot token.
func NewTelegramNotifier(token string, opts ...bot.Option) (*TelegramNotifier, error) {
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b}, nil
}

// Send delivers text to a Telegram chat and returns the message id.
// Chat ids arrive as strings from the workflow context and must be the
// numeric Telegram chat id.
func (n *TelegramNotifier) Send(ctx context.Context, chatID, text string) (string, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	msg, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: id,
		Text:   text,
	})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}
