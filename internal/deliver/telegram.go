package deliver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Long messages are split at telegram's hard message limit.
const telegramMessageLimit = 4096

// TelegramBot is the slice of the bot API delivery needs; tests mock it.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token string) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string) (TelegramBot, error) {
	return tgbotapi.NewBotAPI(token)
}

type TelegramSender struct {
	bot TelegramBot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	return NewTelegramSenderWithFactory(token, defaultBotFactory)
}

// NewTelegramSenderWithFactory creates a TelegramSender with a custom bot
// factory (for testing).
func NewTelegramSenderWithFactory(token string, factory BotFactory) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := factory(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) Send(_ context.Context, target, content string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target %q is not a chat id: %w", target, err)
	}

	for _, chunk := range splitMessage(content, telegramMessageLimit) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if _, err := s.bot.Send(msg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage chunks text on line boundaries where possible.
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
