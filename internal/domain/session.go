package domain

import (
	"slices"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment is a file sent along with a user message. Data holds the
// base64-encoded payload passed inline to the model; URL is only used for display.
type Attachment struct {
	MimeType string
	URL      string
	Data     string
}

type Message struct {
	ID          string
	Role        Role
	Text        string
	Attachments []Attachment
	IsStreaming bool
	Timestamp   time.Time
}

type ChatSession struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy, so the result can be modified without touching s.
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		m.Attachments = slices.Clone(m.Attachments)
		out.Messages[i] = m
	}
	return out
}

// LastMessage returns the most recent message of the session.
func (s ChatSession) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// MessageIndex returns the position of the message with the given ID, or -1.
func (s ChatSession) MessageIndex(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// StreamingCount returns the number of messages still receiving deltas.
func (s ChatSession) StreamingCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.IsStreaming {
			n++
		}
	}
	return n
}
