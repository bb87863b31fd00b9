package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/middleware"
	tg "github.com/set-night/mindchat/internal/telegram"
)

func (h *Handler) handleModels(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}

	selected := ws.Store.SelectedModel()
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        modelsText(selected),
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: tg.ModelsKeyboard(selected),
	})
}

func modelsText(selected domain.ModelID) string {
	var sb strings.Builder
	sb.WriteString("🤖 *Choose a model:*\n\n")
	for _, m := range domain.Models {
		mark := ""
		if m.ID == selected {
			mark = " ✅"
		}
		price := "Free"
		if !m.IsFree() {
			price = fmt.Sprintf("$%.2f / $%.2f per 1M tokens", m.PromptPrice, m.CompletionPrice)
		}
		sb.WriteString(fmt.Sprintf("%s *%s*%s\n%s\n💰 %s\n\n",
			modelCapsEmoji(m.Capabilities), m.Name, mark, m.Description, price))
	}
	return sb.String()
}

func modelCapsEmoji(c domain.ModelCapabilities) string {
	s := "💬"
	if c.Vision {
		s += "🖼"
	}
	if c.Audio {
		s += "🎵"
	}
	if c.Files {
		s += "📎"
	}
	return s
}

func (h *Handler) handleModelSelect(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		answerCallback(ctx, b, update, "")
		return
	}

	id := domain.ModelID(strings.TrimPrefix(update.CallbackQuery.Data, tg.CallbackModel))
	if err := ws.Store.SelectModel(id); err != nil {
		if !errors.Is(err, domain.ErrUnknownModel) {
			slog.Error("select model", "chat_id", ws.ChatID, "error", err)
		}
		answerCallback(ctx, b, update, "❌ This model is not available.")
		return
	}
	answerCallback(ctx, b, update, "")

	chatID, messageID := callbackMessage(update)
	if messageID == 0 {
		return
	}
	b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        modelsText(id),
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: tg.ModelsKeyboard(id),
	})
}
