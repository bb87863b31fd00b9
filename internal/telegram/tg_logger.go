package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/config"
)

// MessageSender is the part of *bot.Bot used for log messages.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramLogger forwards notable events to topics of a log chat. It is a
// no-op when LOG_TELEGRAM_CHAT_ID is unset.
type TelegramLogger struct {
	bot MessageSender
	cfg *config.Config
}

func NewTelegramLogger(b MessageSender, cfg *config.Config) *TelegramLogger {
	return &TelegramLogger{bot: b, cfg: cfg}
}

type LogType string

const (
	LogTypeError        LogType = "error"
	LogTypeRegistration LogType = "registration"
)

func (l *TelegramLogger) Log(logType LogType, message string) {
	if l == nil || l.cfg.LogTelegramChatID == 0 {
		return
	}

	topicID := l.getTopicID(logType)
	if topicID == 0 {
		return
	}

	// Truncate if too long
	if len([]rune(message)) > MaxMessageLen {
		message = string([]rune(message)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := l.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.cfg.LogTelegramChatID,
		Text:            message,
		ParseMode:       models.ParseModeMarkdownV1,
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "type", logType, "error", err)
	}
}

func (l *TelegramLogger) LogError(err error, where string) {
	msg := fmt.Sprintf("❌ *Error*\n\n*Context:* %s\n*Error:* `%s`\n*Time:* %s",
		EscapeMarkdown(where), err.Error(), time.Now().Format(time.DateTime))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogRegistration(chatID int64, firstName, email string) {
	msg := fmt.Sprintf("👤 *New Registration*\n\n*Chat:* `%d`\n*Name:* %s\n*Email:* %s",
		chatID, EscapeMarkdown(firstName), EscapeMarkdown(email))
	l.Log(LogTypeRegistration, msg)
}

func (l *TelegramLogger) getTopicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypeRegistration:
		return l.cfg.LogTopicRegistration
	default:
		return 0
	}
}
