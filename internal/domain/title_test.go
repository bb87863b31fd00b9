package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"short", "Hi", "Hi"},
		{"exactly max", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"one over", strings.Repeat("a", 31), strings.Repeat("a", 30) + "..."},
		{"forty chars", "0123456789012345678901234567890123456789", "012345678901234567890123456789..."},
		{"multibyte counted as characters", strings.Repeat("й", 31), strings.Repeat("й", 30) + "..."},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.text))
		})
	}
}

func TestChatSessionClone_Independent(t *testing.T) {
	orig := ChatSession{
		ID: "s1",
		Messages: []Message{
			{ID: "m1", Text: "a", Attachments: []Attachment{{MimeType: "image/png"}}},
		},
	}
	cp := orig.Clone()
	cp.Messages[0].Text = "changed"
	cp.Messages[0].Attachments[0].MimeType = "image/jpeg"
	cp.Messages = append(cp.Messages, Message{ID: "m2"})

	assert.Equal(t, "a", orig.Messages[0].Text)
	assert.Equal(t, "image/png", orig.Messages[0].Attachments[0].MimeType)
	assert.Len(t, orig.Messages, 1)
}

func TestChatSession_LastMessageAndIndex(t *testing.T) {
	var s ChatSession
	_, ok := s.LastMessage()
	assert.False(t, ok)

	s.Messages = []Message{{ID: "a"}, {ID: "b", IsStreaming: true}}
	last, ok := s.LastMessage()
	assert.True(t, ok)
	assert.Equal(t, "b", last.ID)
	assert.Equal(t, 0, s.MessageIndex("a"))
	assert.Equal(t, -1, s.MessageIndex("zzz"))
	assert.Equal(t, 1, s.StreamingCount())
}

func TestLookupModel(t *testing.T) {
	m, err := LookupModel(DefaultModel)
	assert.NoError(t, err)
	assert.Equal(t, DefaultModel, m.ID)

	_, err = LookupModel("gpt-nope")
	assert.ErrorIs(t, err, ErrUnknownModel)
}
