package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/middleware"
	"github.com/set-night/mindchat/internal/service"
	tg "github.com/set-night/mindchat/internal/telegram"
)

const commandsHelp = "📋 *Commands:*\n" +
	"/new — Start a new chat\n" +
	"/sessions — Switch or delete chats\n" +
	"/models — Choose the AI model\n" +
	"/stats — Usage statistics\n\n" +
	"Send a message, photo or document to start talking!"

const onboardingPrompt = "Before we start, please introduce yourself:\n" +
	"`/register <first name> <email>`"

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}
	chatID := update.Message.Chat.ID

	user, ok := ws.Store.User()
	if !ok {
		reply(ctx, b, chatID, "👋 Hi! I am an AI assistant powered by Gemini.\n\n"+onboardingPrompt)
		return
	}

	title := domain.DefaultSessionTitle
	if sess, ok := ws.Store.CurrentSession(); ok {
		title = sess.Title
	}
	model, _ := domain.LookupModel(ws.Store.SelectedModel())

	reply(ctx, b, chatID, fmt.Sprintf(
		"👋 Welcome back, *%s*!\n\n💬 Chat: %s\n🤖 Model: %s\n\n%s",
		tg.EscapeMarkdown(user.FirstName),
		tg.EscapeMarkdown(title),
		model.Name,
		commandsHelp,
	))
}

func (h *Handler) handleRegister(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}
	chatID := update.Message.Chat.ID

	firstName, email, ok := parseRegisterArgs(update.Message.Text)
	if !ok {
		reply(ctx, b, chatID, "❌ Usage: `/register <first name> <email>`")
		return
	}

	p, err := service.SubmitOnboarding(ws.Store, firstName, email)
	if err != nil {
		slog.Debug("onboarding rejected", "chat_id", chatID, "error", err)
		reply(ctx, b, chatID, "❌ Please check your name and email.\nUsage: `/register <first name> <email>`")
		return
	}

	h.tgLogger.LogRegistration(chatID, p.FirstName, p.Email)
	reply(ctx, b, chatID, fmt.Sprintf("✅ Nice to meet you, *%s*!\n\n%s", tg.EscapeMarkdown(p.FirstName), commandsHelp))
}

// parseRegisterArgs splits "/register <first name> <email>". The email is the
// last word; everything between the command and the email is the name.
func parseRegisterArgs(text string) (firstName, email string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return "", "", false
	}
	return strings.Join(fields[1:len(fields)-1], " "), fields[len(fields)-1], true
}
