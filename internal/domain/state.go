package domain

import "time"

// Profile is the locally captured user. It gates chat functionality but is
// not an authentication mechanism.
type Profile struct {
	FirstName string
	Email     string
	CreatedAt time.Time
}

// AppState is the full read model handed to the rendering layer.
type AppState struct {
	User             *Profile
	CurrentSessionID string
	Sessions         map[string]ChatSession
	SelectedModel    ModelID
	Generating       bool
	Error            string
}

// CurrentSession returns the active session, if any.
func (s AppState) CurrentSession() (ChatSession, bool) {
	if s.CurrentSessionID == "" {
		return ChatSession{}, false
	}
	sess, ok := s.Sessions[s.CurrentSessionID]
	return sess, ok
}
