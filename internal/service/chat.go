package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/generation"
	"github.com/set-night/mindchat/internal/store"
	"github.com/shopspring/decimal"
)

// recordTimeout bounds how long a finished turn may spend in the recorder.
const recordTimeout = 5 * time.Second

// TurnRecorder receives every finished turn.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, rec domain.TurnRecord) error
}

// Recorders fans a finished turn out to every non-nil recorder. It returns
// nil when there is none.
func Recorders(rs ...TurnRecorder) TurnRecorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type multiRecorder []TurnRecorder

func (m multiRecorder) RecordTurn(ctx context.Context, rec domain.TurnRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordTurn(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TurnControllerOpts holds parameters for creating a TurnController.
type TurnControllerOpts struct {
	Store     *store.Store
	Generator generation.Generator
	Timeout   time.Duration // defaults to config.RequestTimeout
	Recorder  TurnRecorder  // optional
	ChatKey   string        // identifies the owning chat in logs and records
}

// TurnController drives one user message through the turn lifecycle:
// the user message and an empty streaming placeholder are appended, the
// generator's deltas are folded into the placeholder, and the turn ends
// COMPLETED or FAILED exactly once.
type TurnController struct {
	store    *store.Store
	gen      generation.Generator
	timeout  time.Duration
	recorder TurnRecorder
	chatKey  string

	mu     sync.Mutex
	active map[string]*Turn // by session ID
	wg     sync.WaitGroup
}

func NewTurnController(opts TurnControllerOpts) *TurnController {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.RequestTimeout
	}
	return &TurnController{
		store:    opts.Store,
		gen:      opts.Generator,
		timeout:  timeout,
		recorder: opts.Recorder,
		chatKey:  opts.ChatKey,
		active:   make(map[string]*Turn),
	}
}

// Send starts a turn in the current session and returns once the user
// message and the placeholder are in the store. The response streams in the
// background; use Turn.Done or Turn.Wait to observe the end.
//
// A blank text without attachments is ignored and yields a nil Turn and a
// nil error.
func (c *TurnController) Send(ctx context.Context, text string, attachments []domain.Attachment) (*Turn, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, nil
	}
	if _, ok := c.store.User(); !ok {
		return nil, domain.ErrNotOnboarded
	}

	sess, ok := c.store.CurrentSession()
	if !ok {
		sess = c.store.CreateSession()
	}
	if err := c.store.BeginTurn(sess.ID); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	now := c.store.Now()
	t := &Turn{
		ID:            c.store.NewID(),
		SessionID:     sess.ID,
		UserMessageID: c.store.NewID(),
		PlaceholderID: c.store.NewID(),
		Model:         c.store.SelectedModel(),
		UserText:      text,
		Attachments:   len(attachments),
		StartedAt:     now,
		done:          make(chan struct{}),
	}

	userMsg := domain.Message{
		ID:          t.UserMessageID,
		Role:        domain.RoleUser,
		Text:        text,
		Attachments: slices.Clone(attachments),
		Timestamp:   now,
	}
	var history []domain.Message
	err := c.store.UpdateSession(t.SessionID, func(s domain.ChatSession) domain.ChatSession {
		if len(s.Messages) == 0 && strings.TrimSpace(text) != "" {
			s.Title = domain.DeriveTitle(text)
		}
		s.Messages = append(s.Messages, userMsg)
		history = slices.Clone(s.Messages)
		return s
	})
	if err != nil {
		c.store.EndTurn(t.SessionID)
		return nil, fmt.Errorf("append user message: %w", err)
	}
	t.setState(TurnUserAppended)

	err = c.store.UpdateSession(t.SessionID, func(s domain.ChatSession) domain.ChatSession {
		s.Messages = append(s.Messages, domain.Message{
			ID:          t.PlaceholderID,
			Role:        domain.RoleModel,
			IsStreaming: true,
			Timestamp:   now,
		})
		return s
	})
	if err != nil {
		c.store.EndTurn(t.SessionID)
		return nil, fmt.Errorf("append placeholder: %w", err)
	}
	t.setState(TurnPlaceholderCreated)

	turnCtx, cancel := context.WithTimeout(ctx, c.timeout)
	t.cancel = cancel

	stream := c.gen.Stream(turnCtx, generation.Request{
		Model:       t.Model,
		History:     history,
		Text:        text,
		Attachments: userMsg.Attachments,
	})
	t.setState(TurnStreaming)

	slog.Debug("turn started", "chat", c.chatKey, "session", t.SessionID, "turn", t.ID, "model", t.Model, "attachments", t.Attachments)

	c.mu.Lock()
	c.active[t.SessionID] = t
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(turnCtx, t, stream)
	return t, nil
}

// Wait blocks until every started turn has finished and been recorded.
func (c *TurnController) Wait() {
	c.wg.Wait()
}

// ActiveTurn returns the turn in flight in a session, if any.
func (c *TurnController) ActiveTurn(sessionID string) (*Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[sessionID]
	return t, ok
}

// Cancel abandons the turn in flight in a session. It reports whether there
// was one.
func (c *TurnController) Cancel(sessionID string) bool {
	t, ok := c.ActiveTurn(sessionID)
	if ok {
		t.Cancel()
	}
	return ok
}

func (c *TurnController) run(ctx context.Context, t *Turn, stream *generation.Stream) {
	defer c.wg.Done()
	defer t.cancel()

	deltas := stream.Deltas
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			c.applyDelta(t, d)
		case res, ok := <-stream.Done:
			if !ok {
				res = generation.Result{Err: errors.New("generation stream closed without a result")}
			}
			c.drain(t, deltas)
			c.finish(ctx, t, res)
			return
		case <-ctx.Done():
			c.finish(ctx, t, generation.Result{Err: ctx.Err()})
			return
		}
	}
}

// drain applies deltas still buffered when the result arrived.
func (c *TurnController) drain(t *Turn, deltas <-chan string) {
	if deltas == nil {
		return
	}
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				return
			}
			c.applyDelta(t, d)
		default:
			return
		}
	}
}

// applyDelta appends text to the placeholder if it is still the last,
// streaming message of the turn's session. Otherwise the delta is dropped
// and counted as superseded.
func (c *TurnController) applyDelta(t *Turn, text string) {
	if text == "" {
		return
	}
	applied := false
	err := c.store.UpdateSession(t.SessionID, func(s domain.ChatSession) domain.ChatSession {
		last, ok := s.LastMessage()
		if !ok || last.ID != t.PlaceholderID || !last.IsStreaming {
			return s
		}
		s.Messages[len(s.Messages)-1].Text += text
		applied = true
		return s
	})
	if err == nil && !applied {
		err = domain.ErrSuperseded
	}

	t.mu.Lock()
	if err != nil {
		t.superseded++
	} else {
		t.deltas++
	}
	t.mu.Unlock()

	if err != nil {
		slog.Debug("delta dropped", "chat", c.chatKey, "session", t.SessionID, "turn", t.ID, "error", err)
	}
}

// finish performs the terminal transition. Only the first call has an
// effect.
func (c *TurnController) finish(ctx context.Context, t *Turn, res generation.Result) {
	state := TurnCompleted
	if res.Err != nil {
		state = TurnFailed
	}
	cost := CalculateCost(t.Model, res.Usage)
	finishedAt := c.store.Now()
	if !t.finish(state, res.Err, res.Usage, cost, finishedAt) {
		return
	}

	var responseText string
	if err := c.store.UpdateSession(t.SessionID, func(s domain.ChatSession) domain.ChatSession {
		i := s.MessageIndex(t.PlaceholderID)
		if i < 0 {
			return s
		}
		m := &s.Messages[i]
		m.IsStreaming = false
		responseText = m.Text
		if res.Err != nil && m.Text == "" {
			m.Text = config.ApologyText
		}
		return s
	}); err != nil {
		slog.Warn("finalize placeholder", "chat", c.chatKey, "session", t.SessionID, "turn", t.ID, "error", err)
	}

	if res.Err != nil {
		c.store.SetError(FailureMessage(res.Err))
	}
	c.store.EndTurn(t.SessionID)
	c.mu.Lock()
	if c.active[t.SessionID] == t {
		delete(c.active, t.SessionID)
	}
	c.mu.Unlock()
	close(t.done)

	elapsed := finishedAt.Sub(t.StartedAt)
	if res.Err != nil {
		slog.Warn("turn failed", "chat", c.chatKey, "session", t.SessionID, "turn", t.ID, "model", t.Model,
			"deltas", t.Deltas(), "elapsed", elapsed, "error", res.Err)
	} else {
		slog.Info("turn completed", "chat", c.chatKey, "session", t.SessionID, "turn", t.ID, "model", t.Model,
			"deltas", t.Deltas(), "prompt_tokens", res.Usage.PromptTokens,
			"completion_tokens", res.Usage.CompletionTokens, "elapsed", elapsed)
	}

	c.record(ctx, t, state, res, responseText, cost, finishedAt)
}

func (c *TurnController) record(ctx context.Context, t *Turn, state TurnState, res generation.Result, responseText string, cost decimal.Decimal, finishedAt time.Time) {
	if c.recorder == nil {
		return
	}
	rec := domain.TurnRecord{
		TurnID:        t.ID,
		ChatKey:       c.chatKey,
		SessionID:     t.SessionID,
		Model:         t.Model,
		UserText:      t.UserText,
		ResponseText:  responseText,
		Attachments:   t.Attachments,
		Outcome:       domain.TurnCompleted,
		Usage:         res.Usage,
		Cost:          cost,
		DeltaCount:    t.Deltas(),
		SupersededCnt: t.Superseded(),
		StartedAt:     t.StartedAt,
		FinishedAt:    finishedAt,
	}
	if state == TurnFailed {
		rec.Outcome = domain.TurnFailed
		rec.ErrorText = res.Err.Error()
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.recorder.RecordTurn(rctx, rec); err != nil {
		slog.Error("record turn", "chat", c.chatKey, "turn", t.ID, "error", err)
	}
}

// FailureMessage turns a generation failure into error banner text.
func FailureMessage(err error) string {
	var genErr *generation.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &genErr) && genErr.Message != "":
		return genErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return config.TimeoutErrorText
	case errors.Is(err, context.Canceled):
		return config.CancelledErrorText
	case strings.TrimSpace(err.Error()) != "":
		return err.Error()
	default:
		return config.GenericErrorText
	}
}
