package handler

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/middleware"
)

// handleNew starts an empty chat and makes it current.
func (h *Handler) handleNew(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}

	ws.Store.CreateSession()
	reply(ctx, b, update.Message.Chat.ID, "🆕 New chat started. The previous one is still available in /sessions.")
}

// handleEnd is the legacy name of /new.
func (h *Handler) handleEnd(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.handleNew(ctx, b, update)
}
