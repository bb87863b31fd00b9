package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/set-night/mindchat/internal/domain"
	"google.golang.org/genai"
)

// streamBuffer bounds how far the producer may run ahead of the consumer.
const streamBuffer = 64

// Error is a backend failure with a message fit for showing to the user.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// contentStreamer is the part of genai.Models used here.
type contentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Gemini streams responses from the Gemini API.
type Gemini struct {
	models       contentStreamer
	systemPrompt string
}

func NewGemini(ctx context.Context, apiKey, systemPrompt string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{models: client.Models, systemPrompt: systemPrompt}, nil
}

func (g *Gemini) Stream(ctx context.Context, req Request) *Stream {
	stream, emit := NewStream(ctx, streamBuffer)
	go g.run(ctx, req, emit)
	return stream
}

func (g *Gemini) run(ctx context.Context, req Request, emit *Emitter) {
	start := time.Now()
	var usage domain.Usage

	contents, err := BuildContents(req.History)
	if err != nil {
		emit.Finish(Result{Err: err})
		return
	}

	var cfg *genai.GenerateContentConfig
	if g.systemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.systemPrompt, genai.RoleUser),
		}
	}

	deltas := 0
	for resp, err := range g.models.GenerateContentStream(ctx, string(req.Model), contents, cfg) {
		if err != nil {
			slog.Warn("gemini stream failed", "model", req.Model, "deltas", deltas, "elapsed", time.Since(start), "error", err)
			emit.Finish(Result{Err: describeError(ctx, err), Usage: usage})
			return
		}
		if resp == nil {
			continue
		}
		if m := resp.UsageMetadata; m != nil {
			usage = domain.Usage{
				PromptTokens:     int(m.PromptTokenCount),
				CompletionTokens: int(m.CandidatesTokenCount),
			}
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		deltas++
		if !emit.Delta(text) {
			emit.Finish(Result{Err: ctx.Err(), Usage: usage})
			return
		}
	}

	slog.Debug("gemini stream completed", "model", req.Model, "deltas", deltas, "elapsed", time.Since(start))
	emit.Finish(Result{Usage: usage})
}

// BuildContents converts chat history into Gemini contents. Model messages
// that are still streaming or empty carry no information and are skipped.
func BuildContents(history []domain.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleModel && (m.IsStreaming || m.Text == "") {
			continue
		}

		var parts []*genai.Part
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		for _, a := range m.Attachments {
			data, err := base64.StdEncoding.DecodeString(a.Data)
			if err != nil {
				return nil, fmt.Errorf("decode attachment %s of message %s: %w", a.MimeType, m.ID, err)
			}
			parts = append(parts, genai.NewPartFromBytes(data, a.MimeType))
		}
		if len(parts) == 0 {
			continue
		}

		var role genai.Role = genai.RoleUser
		if m.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

// describeError maps backend failures to messages for the error banner.
// Context errors pass through untouched so callers can still tell a timeout
// from a cancellation.
func describeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &Error{Message: "Too many requests to the model. Please try again later.", Err: err}
		case apiErr.Code >= http.StatusInternalServerError:
			return &Error{Message: "The model service is temporarily unavailable.", Err: err}
		case apiErr.Message != "":
			return &Error{Message: apiErr.Message, Err: err}
		}
	}
	return err
}
