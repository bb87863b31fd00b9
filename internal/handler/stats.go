package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/middleware"
)

func (h *Handler) handleStats(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if h.stats == nil {
		reply(ctx, b, chatID, "📊 Statistics are not available.")
		return
	}

	st, err := h.stats.Stats(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		slog.Error("load stats", "chat_id", chatID, "error", err)
		h.tgLogger.LogError(err, "stats")
		reply(ctx, b, chatID, "❌ Could not load statistics.")
		return
	}

	text := formatStats(st)
	if update.Message.From != nil && h.cfg.IsAdmin(update.Message.From.ID) {
		text += fmt.Sprintf("\n\n👥 Active chats: %d", h.workspaces.Len())
	}
	reply(ctx, b, chatID, text)
}

func formatStats(st domain.TurnStats) string {
	return fmt.Sprintf(
		"📊 *Statistics*\n\n"+
			"💬 Responses: %d (%d failed)\n"+
			"📥 Prompt tokens: %d\n"+
			"📤 Completion tokens: %d\n"+
			"💰 Cost: $%s",
		st.Turns, st.Failed, st.PromptTokens, st.CompletionTokens, st.Cost.StringFixed(4),
	)
}
