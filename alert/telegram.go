package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Telegram delivers alerts to one chat
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authenticates against the bot API
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("✅ Telegram alerts enabled")
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, kind Kind, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, emoji(kind)+" "+message)
	_, err := t.bot.Send(msg)
	return err
}

func emoji(kind Kind) string {
	switch kind {
	case KindFill, KindTrade:
		return "💰"
	case KindError:
		return "🚨"
	case KindBreaker:
		return "⛔"
	case KindStartup:
		return "🚀"
	default:
		return "ℹ️"
	}
}
