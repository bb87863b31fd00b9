package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// UpdateObserver counts incoming updates.
type UpdateObserver interface {
	ObserveUpdate(kind string)
}

// Logging returns middleware that logs update processing time. Each update
// is also reported to obs when it is not nil.
func Logging(obs UpdateObserver) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()

			updateType := "unknown"
			var userID int64
			if update.Message != nil {
				updateType = "message"
				if update.Message.From != nil {
					userID = update.Message.From.ID
				}
			} else if update.CallbackQuery != nil {
				updateType = "callback_query"
				userID = update.CallbackQuery.From.ID
			}
			if obs != nil {
				obs.ObserveUpdate(updateType)
			}

			next(ctx, b, update)

			slog.Debug("update processed",
				"type", updateType,
				"chat_id", ChatID(update),
				"user_id", userID,
				"duration", time.Since(start),
			)
		}
	}
}
