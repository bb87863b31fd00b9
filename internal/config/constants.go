package config

import "time"

const (
	// Text baked into a failed response bubble when nothing was streamed
	ApologyText = "Sorry, I encountered an error processing your request."

	// Banner text when a failure carries no message
	GenericErrorText = "Something went wrong. Please try again."

	TimeoutErrorText   = "The response took too long. Please try again."
	CancelledErrorText = "Generation was cancelled."

	// Default AI request timeout
	RequestTimeout = 90 * time.Second

	// Telegram limits
	MaxTelegramMessageLen = 4096

	// Minimum gap between edits of a streaming message
	DefaultStreamEditInterval = time.Second

	// Default session count limit
	DefaultMaxSessions = 50

	// Sessions per page
	SessionsPerPage = 5

	// Typing indicator refresh
	TypingInterval = 4 * time.Second

	// Attachments larger than this are rejected before download
	MaxAttachmentBytes = 20 << 20
)
