package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
	"github.com/set-night/mindchat/internal/domain"
)

// Callback data prefixes.
const (
	CallbackModel         = "model_"
	CallbackSwitchSession = "switch_session_"
	CallbackDeleteSession = "delete_session_"
	CallbackSessionsPage  = "sessions_page_"
	CallbackNewSession    = "new_session"
	CallbackDismissError  = "dismiss_error"
	CallbackCancelTurn    = "cancel_turn_"
	CallbackNoop          = "cur"
)

// InlineButton creates a single inline keyboard button.
func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// InlineKeyboard creates an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ButtonRow creates a row of inline buttons.
func ButtonRow(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

// PaginationRow creates a pagination row with prev/next buttons.
func PaginationRow(currentPage, totalPages int, callbackPrefix string) []models.InlineKeyboardButton {
	var row []models.InlineKeyboardButton
	if currentPage > 0 {
		row = append(row, InlineButton("⬅️", fmt.Sprintf("%s%d", callbackPrefix, currentPage-1)))
	}
	row = append(row, InlineButton(fmt.Sprintf("%d/%d", currentPage+1, totalPages), CallbackNoop))
	if currentPage < totalPages-1 {
		row = append(row, InlineButton("➡️", fmt.Sprintf("%s%d", callbackPrefix, currentPage+1)))
	}
	return row
}

// ModelsKeyboard lists every selectable model, marking the selected one.
func ModelsKeyboard(selected domain.ModelID) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(domain.Models))
	for _, m := range domain.Models {
		label := m.Name
		if m.ID == selected {
			label += " ✅"
		}
		rows = append(rows, ButtonRow(InlineButton(label, CallbackModel+string(m.ID))))
	}
	return InlineKeyboard(rows...)
}

// SessionsKeyboard renders one page of sessions with switch and delete
// buttons, the "new" action and pagination.
func SessionsKeyboard(sessions []domain.ChatSession, currentID string, page, totalPages int) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(sessions)+2)
	for _, s := range sessions {
		label := s.Title
		if s.ID == currentID {
			label += " ✅"
		}
		rows = append(rows, ButtonRow(
			InlineButton(label, CallbackSwitchSession+s.ID),
			InlineButton("🗑", CallbackDeleteSession+s.ID),
		))
	}
	rows = append(rows, ButtonRow(InlineButton("➕ New chat", CallbackNewSession)))
	if totalPages > 1 {
		rows = append(rows, PaginationRow(page, totalPages, CallbackSessionsPage))
	}
	return InlineKeyboard(rows...)
}

// DismissKeyboard carries the button that clears the error banner.
func DismissKeyboard() *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(InlineButton("✖️ Dismiss", CallbackDismissError)))
}

// CancelKeyboard carries the button that stops the response streaming in a
// session.
func CancelKeyboard(sessionID string) *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(InlineButton("⏹ Stop", CallbackCancelTurn+sessionID)))
}
