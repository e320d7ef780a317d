package deliver

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type mockBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable type")
	}
	m.sent = append(m.sent, msg)
	return tgbotapi.Message{}, nil
}

func newMockSender(t *testing.T, bot *mockBot) *TelegramSender {
	t.Helper()
	sender, err := NewTelegramSenderWithFactory("token", func(string) (TelegramBot, error) {
		return bot, nil
	})
	if err != nil {
		t.Fatalf("NewTelegramSenderWithFactory: %v", err)
	}
	return sender
}

func TestTelegramSenderRequiresToken(t *testing.T) {
	if _, err := NewTelegramSenderWithFactory("  ", nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestTelegramSenderSend(t *testing.T) {
	bot := &mockBot{}
	sender := newMockSender(t, bot)

	if err := sender.Send(context.Background(), "123456", "weekly report body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent=%d messages, want 1", len(bot.sent))
	}
	if bot.sent[0].ChatID != 123456 {
		t.Fatalf("ChatID=%d", bot.sent[0].ChatID)
	}
	if bot.sent[0].Text != "weekly report body" {
		t.Fatalf("Text=%q", bot.sent[0].Text)
	}
}

func TestTelegramSenderRejectsNonNumericTarget(t *testing.T) {
	sender := newMockSender(t, &mockBot{})
	if err := sender.Send(context.Background(), "@channel", "body"); err == nil {
		t.Fatal("expected error for non-numeric chat target")
	}
}

func TestTelegramSenderSplitsLongContent(t *testing.T) {
	bot := &mockBot{}
	sender := newMockSender(t, bot)

	content := strings.Repeat("line of report text\n", 400) // ~8000 chars
	if err := sender.Send(context.Background(), "42", content); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) < 2 {
		t.Fatalf("sent=%d messages, want a split", len(bot.sent))
	}
	var rebuilt strings.Builder
	for _, msg := range bot.sent {
		if len([]rune(msg.Text)) > telegramMessageLimit {
			t.Fatalf("chunk of %d runes exceeds limit", len([]rune(msg.Text)))
		}
		rebuilt.WriteString(msg.Text)
	}
	if rebuilt.String() != content {
		t.Fatal("chunks do not reassemble to the original content")
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short content unchanged", func(t *testing.T) {
		got := splitMessage("hello", 10)
		if len(got) != 1 || got[0] != "hello" {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("prefers line boundaries", func(t *testing.T) {
		got := splitMessage("aaaa\nbbbb\ncccc", 10)
		if len(got) != 2 {
			t.Fatalf("chunks=%d, want 2: %q", len(got), got)
		}
		if !strings.HasSuffix(got[0], "\n") {
			t.Fatalf("first chunk %q does not end at a line boundary", got[0])
		}
	})

	t.Run("hard cut without newlines", func(t *testing.T) {
		got := splitMessage(strings.Repeat("x", 25), 10)
		if len(got) != 3 {
			t.Fatalf("chunks=%d, want 3", len(got))
		}
	})
}
