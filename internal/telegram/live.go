package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const streamCursor = " ▌"

// LiveMessage is a chat message that follows a response while it streams
// and is replaced by the formatted final text at the end.
type LiveMessage struct {
	api       API
	chatID    int64
	messageID int
	shown     string
	markup    models.ReplyMarkup
}

// NewLiveMessage sends the initial text and returns a handle for editing it.
// The markup stays attached until Finish.
func NewLiveMessage(ctx context.Context, api API, chatID int64, initial string, markup models.ReplyMarkup) (*LiveMessage, error) {
	msg, err := api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        initial,
		ReplyMarkup: markup,
	})
	if err != nil {
		return nil, fmt.Errorf("send live message: %w", err)
	}
	return &LiveMessage{api: api, chatID: chatID, messageID: msg.ID, shown: initial, markup: markup}, nil
}

func (m *LiveMessage) MessageID() int {
	return m.messageID
}

// Update shows partial text as plain text with a cursor. Unchanged text is
// not re-sent.
func (m *LiveMessage) Update(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	text = truncate(text, MaxMessageLen-len([]rune(streamCursor))) + streamCursor
	if text == m.shown {
		return nil
	}
	if _, err := m.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      m.chatID,
		MessageID:   m.messageID,
		Text:        text,
		ReplyMarkup: m.markup,
	}); err != nil {
		return fmt.Errorf("edit live message: %w", err)
	}
	m.shown = text
	return nil
}

// Finish replaces the message with the final text. Text over the Telegram
// limit continues in follow-up messages; markup goes on the last one.
func (m *LiveMessage) Finish(ctx context.Context, text string, markup models.ReplyMarkup) error {
	parts := SplitMessage(text, MaxMessageLen-markdownSlack)

	first := markup
	if len(parts) > 1 {
		first = nil
	}
	if err := EditMessage(ctx, m.api, m.chatID, m.messageID, parts[0], first); err != nil {
		return err
	}
	m.shown = parts[0]

	for i, part := range parts[1:] {
		params := &bot.SendMessageParams{
			ChatID:    m.chatID,
			Text:      FixMarkdown(part),
			ParseMode: models.ParseModeMarkdownV1,
		}
		if i == len(parts)-2 && markup != nil {
			params.ReplyMarkup = markup
		}
		if err := sendWithFallback(ctx, m.api, params); err != nil {
			return err
		}
	}
	return nil
}
