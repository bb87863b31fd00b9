package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/middleware"
	"github.com/set-night/mindchat/internal/service"
	tg "github.com/set-night/mindchat/internal/telegram"
)

const (
	thinkingText      = "⏳ Thinking..."
	emptyResponseText = "🤷 The model returned an empty response."
)

// HandleMessage sends a chat message, with optional photo, document or voice,
// to the model and streams the answer back.
func (h *Handler) HandleMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	// Skip unknown commands
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}
	chatID := msg.Chat.ID

	if _, ok := ws.Store.User(); !ok {
		reply(ctx, b, chatID, onboardingPrompt)
		return
	}

	text := msg.Text
	if msg.Caption != "" {
		text = msg.Caption
	}

	attachments, err := h.collectAttachments(ctx, b, msg)
	if err != nil {
		if errors.Is(err, tg.ErrFileTooLarge) {
			reply(ctx, b, chatID, "❌ The file is too large (20 MB max).")
			return
		}
		slog.Error("download attachment", "chat_id", chatID, "error", err)
		reply(ctx, b, chatID, "❌ Could not download the file. Please try again.")
		return
	}

	model, err := domain.LookupModel(ws.Store.SelectedModel())
	if err != nil {
		slog.Error("lookup model", "chat_id", chatID, "error", err)
		reply(ctx, b, chatID, "❌ Unknown model. Use /models to choose one.")
		return
	}
	if !supportsAttachments(model, attachments) {
		reply(ctx, b, chatID, "❌ "+model.Name+" cannot read this kind of file. Use /models to choose another model.")
		return
	}

	turn, err := ws.Controller.Send(ctx, text, attachments)
	switch {
	case errors.Is(err, domain.ErrTurnInFlight):
		reply(ctx, b, chatID, "⏳ Wait for the previous response to finish.")
		return
	case errors.Is(err, domain.ErrNotOnboarded):
		reply(ctx, b, chatID, onboardingPrompt)
		return
	case err != nil:
		slog.Error("send message", "chat_id", chatID, "error", err)
		h.tgLogger.LogError(err, "send_message")
		reply(ctx, b, chatID, "❌ "+config.GenericErrorText)
		return
	case turn == nil:
		return
	}

	// Render outside the update worker so the Stop button stays responsive.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.streamTurn(ctx, b, chatID, ws, turn)
	}()
}

// collectAttachments downloads the files of a message.
func (h *Handler) collectAttachments(ctx context.Context, files tg.FileAPI, msg *models.Message) ([]domain.Attachment, error) {
	type source struct{ fileID, mimeType string }
	var sources []source

	if n := len(msg.Photo); n > 0 {
		// Largest size comes last
		sources = append(sources, source{msg.Photo[n-1].FileID, "image/jpeg"})
	}
	if msg.Document != nil {
		sources = append(sources, source{msg.Document.FileID, msg.Document.MimeType})
	}
	if msg.Voice != nil {
		sources = append(sources, source{msg.Voice.FileID, msg.Voice.MimeType})
	}
	if msg.Audio != nil {
		sources = append(sources, source{msg.Audio.FileID, msg.Audio.MimeType})
	}

	attachments := make([]domain.Attachment, 0, len(sources))
	for _, s := range sources {
		att, err := tg.DownloadAttachment(ctx, files, h.httpClient, s.fileID, s.mimeType)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

// supportsAttachments reports whether the model can take every attachment.
func supportsAttachments(m domain.AIModel, attachments []domain.Attachment) bool {
	for _, a := range attachments {
		switch {
		case strings.HasPrefix(a.MimeType, "image/"):
			if !m.Capabilities.Vision {
				return false
			}
		case strings.HasPrefix(a.MimeType, "audio/"):
			if !m.Capabilities.Audio {
				return false
			}
		default:
			if !m.Capabilities.Files {
				return false
			}
		}
	}
	return true
}

// streamTurn mirrors the placeholder of a turn into a Telegram message until
// the turn finishes, then shows the final text and, on failure, the banner.
func (h *Handler) streamTurn(ctx context.Context, api tg.API, chatID int64, ws *service.Workspace, turn *service.Turn) {
	stopTyping := tg.StartTyping(ctx, api, chatID)
	defer stopTyping()

	live, err := tg.NewLiveMessage(ctx, api, chatID, thinkingText, tg.CancelKeyboard(turn.SessionID))
	if err != nil {
		slog.Error("send placeholder", "chat_id", chatID, "error", err)
	}

	changes, stopWatch := ws.Store.Watch()
	defer stopWatch()

	ticker := time.NewTicker(h.editInterval())
	defer ticker.Stop()

	dirty := false
	for done := false; !done; {
		select {
		case <-turn.Done():
			done = true
		case <-ctx.Done():
			return
		case <-changes:
			dirty = true
		case <-ticker.C:
			if !dirty || live == nil {
				continue
			}
			dirty = false
			if err := live.Update(ctx, placeholderText(ws, turn)); err != nil {
				slog.Warn("update placeholder", "chat_id", chatID, "error", err)
			}
		}
	}
	stopTyping()

	final := placeholderText(ws, turn)
	if final == "" {
		final = emptyResponseText
	}
	if h.cfg.ShowCost && turn.State() == service.TurnCompleted {
		final += "\n\n" + service.FormatUsage(turn.Usage(), turn.Cost())
	}

	if live != nil {
		err = live.Finish(ctx, final, nil)
	} else {
		err = tg.SendLongMessage(ctx, api, chatID, final, nil)
	}
	if err != nil {
		slog.Error("send response", "chat_id", chatID, "error", err)
	}

	if turn.State() == service.TurnFailed {
		banner := "⚠️ " + service.FailureMessage(turn.Err())
		if err := tg.SendLongMessage(ctx, api, chatID, banner, tg.DismissKeyboard()); err != nil {
			slog.Error("send error banner", "chat_id", chatID, "error", err)
		}
	}
}

func placeholderText(ws *service.Workspace, turn *service.Turn) string {
	msg, err := ws.Store.Message(turn.SessionID, turn.PlaceholderID)
	if err != nil {
		return ""
	}
	return msg.Text
}

func (h *Handler) editInterval() time.Duration {
	if h.cfg.StreamEditInterval > 0 {
		return h.cfg.StreamEditInterval
	}
	return config.DefaultStreamEditInterval
}

func (h *Handler) handleCancelTurn(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		answerCallback(ctx, b, update, "")
		return
	}

	sessionID := strings.TrimPrefix(update.CallbackQuery.Data, tg.CallbackCancelTurn)
	if !ws.Controller.Cancel(sessionID) {
		answerCallback(ctx, b, update, "Nothing to stop.")
		return
	}
	answerCallback(ctx, b, update, "")
}

func (h *Handler) handleDismissError(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	answerCallback(ctx, b, update, "")

	ws := middleware.GetWorkspace(ctx)
	if ws == nil {
		return
	}
	ws.Store.DismissError()

	chatID, messageID := callbackMessage(update)
	if messageID == 0 {
		return
	}
	if _, err := b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		slog.Debug("delete error banner", "chat_id", chatID, "error", err)
	}
}
