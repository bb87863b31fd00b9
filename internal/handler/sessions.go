package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/middleware"
	"github.com/set-night/mindchat/internal/service"
	tg "github.com/set-night/mindchat/internal/telegram"
)

func (h *Handler) handleSessions(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}

	h.sendSessionsPage(ctx, b, update.Message.Chat.ID, ws, 0, 0)
}

// sendSessionsPage renders one page of the session list. With a non-zero
// messageID the existing list message is edited in place.
func (h *Handler) sendSessionsPage(ctx context.Context, b *bot.Bot, chatID int64, ws *service.Workspace, page, messageID int) {
	all := ws.Store.Sessions()
	items, page, totalPages := paginate(all, page, config.SessionsPerPage)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📂 *Chats* (%d)\n\n", len(all)))
	if len(all) == 0 {
		sb.WriteString("No chats yet. Send a message to start one.")
	}
	for _, s := range items {
		sb.WriteString(fmt.Sprintf("• %s (%d messages, %s)\n",
			tg.EscapeMarkdown(s.Title), len(s.Messages), s.UpdatedAt.Format("02.01 15:04")))
	}

	keyboard := tg.SessionsKeyboard(items, ws.Store.CurrentSessionID(), page, totalPages)
	text := sb.String()

	if messageID != 0 {
		b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      chatID,
			MessageID:   messageID,
			Text:        text,
			ParseMode:   models.ParseModeMarkdownV1,
			ReplyMarkup: keyboard,
		})
		return
	}
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: keyboard,
	})
}

// paginate returns the items of the requested page, the page clamped into
// range and the total page count, which is at least one.
func paginate[T any](items []T, page, perPage int) ([]T, int, int) {
	totalPages := (len(items) + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	page = max(0, min(page, totalPages-1))

	start := page * perPage
	end := min(start+perPage, len(items))
	if start >= len(items) {
		return nil, page, totalPages
	}
	return items[start:end], page, totalPages
}

func (h *Handler) handleNewSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	answerCallback(ctx, b, update, "")

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}

	ws.Store.CreateSession()
	chatID, messageID := callbackMessage(update)
	h.sendSessionsPage(ctx, b, chatID, ws, 0, messageID)
}

func (h *Handler) handleSwitchSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		answerCallback(ctx, b, update, "")
		return
	}

	id := strings.TrimPrefix(update.CallbackQuery.Data, tg.CallbackSwitchSession)
	if err := ws.Store.SelectSession(id); err != nil {
		slog.Debug("switch session", "chat_id", ws.ChatID, "error", err)
		answerCallback(ctx, b, update, "❌ This chat no longer exists.")
	} else {
		answerCallback(ctx, b, update, "")
	}

	chatID, messageID := callbackMessage(update)
	h.sendSessionsPage(ctx, b, chatID, ws, 0, messageID)
}

func (h *Handler) handleDeleteSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		answerCallback(ctx, b, update, "")
		return
	}

	id := strings.TrimPrefix(update.CallbackQuery.Data, tg.CallbackDeleteSession)
	err := ws.Store.DeleteSession(id)
	switch {
	case err == nil:
		answerCallback(ctx, b, update, "")
	case errors.Is(err, domain.ErrTurnInFlight):
		answerCallback(ctx, b, update, "⏳ Wait until the response is finished.")
		return
	default:
		slog.Debug("delete session", "chat_id", ws.ChatID, "error", err)
		answerCallback(ctx, b, update, "❌ This chat no longer exists.")
	}

	chatID, messageID := callbackMessage(update)
	h.sendSessionsPage(ctx, b, chatID, ws, 0, messageID)
}

func (h *Handler) handleSessionsPage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	answerCallback(ctx, b, update, "")

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}

	page, _ := strconv.Atoi(strings.TrimPrefix(update.CallbackQuery.Data, tg.CallbackSessionsPage))
	chatID, messageID := callbackMessage(update)
	h.sendSessionsPage(ctx, b, chatID, ws, page, messageID)
}
