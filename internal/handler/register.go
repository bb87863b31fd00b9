package handler

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	tg "github.com/set-night/mindchat/internal/telegram"
)

// Register registers all command and callback handlers on the bot instance.
func (h *Handler) Register() {
	// Commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/register", bot.MatchTypePrefix, h.handleRegister)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/new", bot.MatchTypePrefix, h.handleNew)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/end", bot.MatchTypePrefix, h.handleEnd)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/sessions", bot.MatchTypePrefix, h.handleSessions)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/models", bot.MatchTypePrefix, h.handleModels)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypePrefix, h.handleStats)

	// Models callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackModel, bot.MatchTypePrefix, h.handleModelSelect)

	// Sessions callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackNewSession, bot.MatchTypePrefix, h.handleNewSession)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackSwitchSession, bot.MatchTypePrefix, h.handleSwitchSession)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackDeleteSession, bot.MatchTypePrefix, h.handleDeleteSession)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackSessionsPage, bot.MatchTypePrefix, h.handleSessionsPage)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackNoop, bot.MatchTypeExact, h.handleNoop)

	// Turn callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackCancelTurn, bot.MatchTypePrefix, h.handleCancelTurn)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackDismissError, bot.MatchTypePrefix, h.handleDismissError)

	// Plain messages are routed through HandleDefault, set in main.go
}

// HandleDefault receives every update no registered handler matched.
func (h *Handler) HandleDefault(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message != nil {
		h.HandleMessage(ctx, b, update)
	}
}

// handleNoop is a no-op callback handler used for pagination indicators and other
// non-interactive inline buttons. It simply acknowledges the callback query.
func (h *Handler) handleNoop(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery != nil {
		b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: update.CallbackQuery.ID,
		})
	}
}

// answerCallback acknowledges a callback query, showing text as an alert
// when it is not empty.
func answerCallback(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
		Text:            text,
		ShowAlert:       text != "",
	})
}

// callbackMessage returns the chat and message a callback button belongs to.
func callbackMessage(update *models.Update) (chatID int64, messageID int) {
	if msg := update.CallbackQuery.Message.Message; msg != nil {
		return msg.Chat.ID, msg.ID
	}
	return 0, 0
}

func reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
}
