package domain

import "unicode/utf8"

const (
	DefaultSessionTitle = "New Chat"
	TitleMaxLen         = 30
	titleEllipsis       = "..."
)

// DeriveTitle builds a session title from the first user message: the text
// itself, or its first TitleMaxLen characters followed by "..." when longer.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= TitleMaxLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:TitleMaxLen]) + titleEllipsis
}
