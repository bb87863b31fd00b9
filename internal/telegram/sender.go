package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/config"
)

const MaxMessageLen = config.MaxTelegramMessageLen

// markdownSlack is the most FixMarkdown may append to a message.
const markdownSlack = 5

// API is the part of *bot.Bot used to render chats.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// SendLongMessage sends a potentially long message, splitting it into parts if needed.
// Falls back to plain text if Markdown parsing fails.
func SendLongMessage(ctx context.Context, b API, chatID int64, text string, markup models.ReplyMarkup) error {
	parts := SplitMessage(text, MaxMessageLen-markdownSlack)
	for i, part := range parts {
		params := &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      FixMarkdown(part),
			ParseMode: models.ParseModeMarkdownV1,
		}
		if i == len(parts)-1 && markup != nil {
			params.ReplyMarkup = markup
		}
		if err := sendWithFallback(ctx, b, params); err != nil {
			return err
		}
	}
	return nil
}

func sendWithFallback(ctx context.Context, b API, params *bot.SendMessageParams) error {
	_, err := b.SendMessage(ctx, params)
	if err == nil {
		return nil
	}
	slog.Warn("markdown send failed, falling back to plain text", "error", err)
	params.ParseMode = ""
	if _, err := b.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// EditMessage replaces the text of a message, retrying without Markdown when
// Telegram rejects the formatting. Text over the limit is cut.
func EditMessage(ctx context.Context, b API, chatID int64, messageID int, text string, markup models.ReplyMarkup) error {
	text = FixMarkdown(truncate(text, MaxMessageLen-markdownSlack))
	params := &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: markup,
	}
	if _, err := b.EditMessageText(ctx, params); err == nil {
		return nil
	}
	params.ParseMode = ""
	if _, err := b.EditMessageText(ctx, params); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func truncate(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	return string([]rune(text)[:maxLen-3]) + "..."
}

// StartTyping sends the "typing..." action every config.TypingInterval until
// the returned cancel function is called.
func StartTyping(ctx context.Context, b API, chatID int64) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	send := func() {
		b.SendChatAction(ctx, &bot.SendChatActionParams{
			ChatID: chatID,
			Action: models.ChatActionTyping,
		})
	}
	go func() {
		ticker := time.NewTicker(config.TypingInterval)
		defer ticker.Stop()
		send()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()
	return cancel
}
