package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/generation"
	"github.com/set-night/mindchat/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// replayGenerator plays back fixed deltas followed by a fixed result.
type replayGenerator struct {
	deltas []string
	result generation.Result

	mu       sync.Mutex
	requests []generation.Request
}

func (g *replayGenerator) Stream(ctx context.Context, req generation.Request) *generation.Stream {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	s, emit := generation.NewStream(ctx, len(g.deltas))
	go func() {
		for _, d := range g.deltas {
			if !emit.Delta(d) {
				emit.Finish(generation.Result{Err: ctx.Err()})
				return
			}
		}
		emit.Finish(g.result)
	}()
	return s
}

func (g *replayGenerator) lastRequest(t *testing.T) generation.Request {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.requests)
	return g.requests[len(g.requests)-1]
}

// manualGenerator hands every stream's emitter to the test, which drives it
// by hand.
type manualGenerator struct {
	emitters chan *generation.Emitter
}

func newManualGenerator() *manualGenerator {
	return &manualGenerator{emitters: make(chan *generation.Emitter, 8)}
}

func (g *manualGenerator) Stream(ctx context.Context, _ generation.Request) *generation.Stream {
	s, emit := generation.NewStream(ctx, 16)
	g.emitters <- emit
	return s
}

func (g *manualGenerator) next(t *testing.T) *generation.Emitter {
	t.Helper()
	select {
	case e := <-g.emitters:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no stream started")
		return nil
	}
}

// silentGenerator never produces anything.
type silentGenerator struct{}

func (silentGenerator) Stream(ctx context.Context, _ generation.Request) *generation.Stream {
	s, _ := generation.NewStream(ctx, 0)
	return s
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []domain.TurnRecord
	err     error
}

func (r *memoryRecorder) RecordTurn(_ context.Context, rec domain.TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestController(t *testing.T, gen generation.Generator, opts ...func(*TurnControllerOpts)) (*store.Store, *TurnController) {
	t.Helper()
	st := store.New(store.Options{})
	st.SetUser(domain.Profile{FirstName: "Ann", Email: "ann@example.com"})

	o := TurnControllerOpts{Store: st, Generator: gen, Timeout: time.Minute, ChatKey: "test"}
	for _, fn := range opts {
		fn(&o)
	}
	c := NewTurnController(o)
	t.Cleanup(c.Wait)
	return st, c
}

func waitTurn(t *testing.T, turn *Turn) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := turn.Wait(ctx)
	require.NoError(t, ctx.Err(), "turn did not finish")
	return err
}

func currentSession(t *testing.T, st *store.Store) domain.ChatSession {
	t.Helper()
	sess, ok := st.CurrentSession()
	require.True(t, ok)
	return sess
}

func placeholderText(st *store.Store, turn *Turn) string {
	m, err := st.Message(turn.SessionID, turn.PlaceholderID)
	if err != nil {
		return ""
	}
	return m.Text
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestSend_StreamsIntoPlaceholder(t *testing.T) {
	gen := &replayGenerator{deltas: []string{"He", "llo"}}
	st, c := newTestController(t, gen)

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	require.NotNil(t, turn)
	require.NoError(t, waitTurn(t, turn))

	sess := currentSession(t, st)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, domain.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "Hi", sess.Messages[0].Text)
	assert.Equal(t, domain.RoleModel, sess.Messages[1].Role)
	assert.Equal(t, "Hello", sess.Messages[1].Text)
	assert.False(t, sess.Messages[1].IsStreaming)
	assert.Equal(t, "Hi", sess.Title)

	assert.Equal(t, TurnCompleted, turn.State())
	assert.Equal(t, 2, turn.Deltas())
	assert.Zero(t, turn.Superseded())
	assert.False(t, st.Generating())
	assert.Empty(t, st.Snapshot().Error)

	req := gen.lastRequest(t)
	assert.Equal(t, domain.DefaultModel, req.Model)
	assert.Equal(t, "Hi", req.Text)
	require.Len(t, req.History, 1, "history includes the user message and excludes the placeholder")
	assert.Equal(t, turn.UserMessageID, req.History[0].ID)
}

func TestSend_IntermediateStates(t *testing.T) {
	gen := newManualGenerator()
	st, c := newTestController(t, gen)

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	emit := gen.next(t)

	assert.Equal(t, TurnStreaming, turn.State())
	assert.True(t, st.Generating())
	sess := currentSession(t, st)
	require.Len(t, sess.Messages, 2)
	last, _ := sess.LastMessage()
	assert.Equal(t, turn.PlaceholderID, last.ID)
	assert.True(t, last.IsStreaming)
	assert.Empty(t, last.Text)

	require.True(t, emit.Delta("He"))
	require.Eventually(t, func() bool { return placeholderText(st, turn) == "He" }, 5*time.Second, 5*time.Millisecond)
	require.True(t, emit.Delta("llo"))
	emit.Finish(generation.Result{})

	require.NoError(t, waitTurn(t, turn))
	assert.Equal(t, "Hello", placeholderText(st, turn))
}

func TestSend_TitleTruncated(t *testing.T) {
	st, c := newTestController(t, &replayGenerator{deltas: []string{"ok"}})

	text := strings.Repeat("abcd", 10)
	turn, err := c.Send(context.Background(), text, nil)
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))
	assert.Equal(t, text[:30]+"...", currentSession(t, st).Title)

	turn, err = c.Send(context.Background(), "second message", nil)
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))
	assert.Equal(t, text[:30]+"...", currentSession(t, st).Title, "title only changes on the first message")
}

func TestSend_AttachmentOnlyKeepsDefaultTitle(t *testing.T) {
	gen := &replayGenerator{deltas: []string{"a cat"}}
	st, c := newTestController(t, gen)

	att := []domain.Attachment{{MimeType: "image/png", Data: "iVBORw0KGgo="}}
	turn, err := c.Send(context.Background(), "", att)
	require.NoError(t, err)
	require.NotNil(t, turn)
	require.NoError(t, waitTurn(t, turn))

	sess := currentSession(t, st)
	assert.Equal(t, domain.DefaultSessionTitle, sess.Title)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, att, sess.Messages[0].Attachments)
	assert.Equal(t, att, gen.lastRequest(t).Attachments)
}

func TestSend_BlankIgnored(t *testing.T) {
	gen := &replayGenerator{}
	st, c := newTestController(t, gen)

	turn, err := c.Send(context.Background(), "   \n", nil)
	assert.NoError(t, err)
	assert.Nil(t, turn)
	assert.Empty(t, currentSession(t, st).Messages)
	assert.False(t, st.Generating())
	assert.Empty(t, gen.requests)
}

func TestSend_RequiresOnboarding(t *testing.T) {
	st := store.New(store.Options{})
	c := NewTurnController(TurnControllerOpts{Store: st, Generator: &replayGenerator{}})

	_, err := c.Send(context.Background(), "Hi", nil)
	assert.ErrorIs(t, err, domain.ErrNotOnboarded)
}

func TestSend_CreatesSessionWhenNoneCurrent(t *testing.T) {
	st, c := newTestController(t, &replayGenerator{deltas: []string{"x"}})
	require.NoError(t, st.DeleteSession(st.CurrentSessionID()))
	require.Empty(t, st.CurrentSessionID())

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))
	assert.Equal(t, turn.SessionID, st.CurrentSessionID())
}

func TestSend_ZeroDeltasCompletesEmpty(t *testing.T) {
	st, c := newTestController(t, &replayGenerator{})

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))

	m, err := st.Message(turn.SessionID, turn.PlaceholderID)
	require.NoError(t, err)
	assert.Empty(t, m.Text)
	assert.False(t, m.IsStreaming)
	assert.Equal(t, TurnCompleted, turn.State())
	assert.Empty(t, st.Snapshot().Error)
}

// ---------------------------------------------------------------------------
// Failure
// ---------------------------------------------------------------------------

func TestSend_FailureWithoutDeltas(t *testing.T) {
	genErr := &generation.Error{Message: "Too many requests to the model. Please try again later."}
	st, c := newTestController(t, &replayGenerator{result: generation.Result{Err: genErr}})

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, waitTurn(t, turn), genErr)

	m, err := st.Message(turn.SessionID, turn.PlaceholderID)
	require.NoError(t, err)
	assert.Equal(t, config.ApologyText, m.Text)
	assert.False(t, m.IsStreaming)
	assert.Equal(t, TurnFailed, turn.State())
	assert.False(t, st.Generating())
	assert.Equal(t, genErr.Message, st.Snapshot().Error)
}

func TestSend_FailureKeepsPartialText(t *testing.T) {
	st, c := newTestController(t, &replayGenerator{
		deltas: []string{"par", "tial"},
		result: generation.Result{Err: errors.New("")},
	})

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.Error(t, waitTurn(t, turn))

	assert.Equal(t, "partial", placeholderText(st, turn))
	assert.Equal(t, config.GenericErrorText, st.Snapshot().Error)
}

func TestSend_TerminalTransitionOnce(t *testing.T) {
	st, c := newTestController(t, &replayGenerator{deltas: []string{"done"}})

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))

	c.finish(context.Background(), turn, generation.Result{Err: errors.New("late failure")})

	assert.Equal(t, TurnCompleted, turn.State())
	assert.NoError(t, turn.Err())
	assert.Equal(t, "done", placeholderText(st, turn))
	assert.Empty(t, st.Snapshot().Error)
}

func TestSend_TimeoutForcesFailure(t *testing.T) {
	st, c := newTestController(t, silentGenerator{}, func(o *TurnControllerOpts) {
		o.Timeout = 20 * time.Millisecond
	})

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, waitTurn(t, turn), context.DeadlineExceeded)

	assert.Equal(t, TurnFailed, turn.State())
	assert.Equal(t, config.ApologyText, placeholderText(st, turn))
	assert.Equal(t, config.TimeoutErrorText, st.Snapshot().Error)
	assert.False(t, st.Generating())
}

func TestSend_CancelForcesFailure(t *testing.T) {
	gen := newManualGenerator()
	st, c := newTestController(t, gen)

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	emit := gen.next(t)
	require.True(t, emit.Delta("par"))
	require.Eventually(t, func() bool { return placeholderText(st, turn) == "par" }, 5*time.Second, 5*time.Millisecond)

	active, ok := c.ActiveTurn(turn.SessionID)
	require.True(t, ok)
	assert.Same(t, turn, active)

	assert.True(t, c.Cancel(turn.SessionID))
	assert.ErrorIs(t, waitTurn(t, turn), context.Canceled)

	_, ok = c.ActiveTurn(turn.SessionID)
	assert.False(t, ok)
	assert.False(t, c.Cancel(turn.SessionID))

	emit.Finish(generation.Result{})

	assert.Equal(t, TurnFailed, turn.State())
	assert.Equal(t, "par", placeholderText(st, turn))
	assert.Equal(t, config.CancelledErrorText, st.Snapshot().Error)
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestSend_RejectsSecondSendInFlight(t *testing.T) {
	gen := newManualGenerator()
	st, c := newTestController(t, gen)

	first, err := c.Send(context.Background(), "one", nil)
	require.NoError(t, err)
	emit := gen.next(t)

	_, err = c.Send(context.Background(), "two", nil)
	assert.ErrorIs(t, err, domain.ErrTurnInFlight)
	assert.Len(t, currentSession(t, st).Messages, 2)

	emit.Finish(generation.Result{})
	require.NoError(t, waitTurn(t, first))

	second, err := c.Send(context.Background(), "two", nil)
	require.NoError(t, err)
	gen.next(t).Finish(generation.Result{})
	require.NoError(t, waitTurn(t, second))
	assert.Len(t, currentSession(t, st).Messages, 4)
}

func TestSend_SessionsDoNotInterfere(t *testing.T) {
	gen := newManualGenerator()
	st, c := newTestController(t, gen)

	a, err := c.Send(context.Background(), "in a", nil)
	require.NoError(t, err)
	emitA := gen.next(t)

	st.CreateSession()
	b, err := c.Send(context.Background(), "in b", nil)
	require.NoError(t, err)
	emitB := gen.next(t)
	require.NotEqual(t, a.SessionID, b.SessionID)

	require.True(t, emitA.Delta("a1"))
	require.True(t, emitB.Delta("b1"))
	require.True(t, emitA.Delta("a2"))

	emitA.Finish(generation.Result{})
	require.NoError(t, waitTurn(t, a))
	assert.True(t, st.Generating(), "b is still in flight")

	emitB.Finish(generation.Result{})
	require.NoError(t, waitTurn(t, b))
	assert.False(t, st.Generating())

	assert.Equal(t, "a1a2", placeholderText(st, a))
	assert.Equal(t, "b1", placeholderText(st, b))

	sa, err := st.Session(a.SessionID)
	require.NoError(t, err)
	sb, err := st.Session(b.SessionID)
	require.NoError(t, err)
	assert.Len(t, sa.Messages, 2)
	assert.Len(t, sb.Messages, 2)
	assert.Equal(t, "in a", sa.Title)
	assert.Equal(t, "in b", sb.Title)
}

func TestSend_SupersededDeltaDropped(t *testing.T) {
	gen := newManualGenerator()
	st, c := newTestController(t, gen)

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	emit := gen.next(t)

	require.NoError(t, st.UpdateSession(turn.SessionID, func(s domain.ChatSession) domain.ChatSession {
		s.Messages = append(s.Messages, domain.Message{ID: "intruder", Role: domain.RoleUser, Text: "later"})
		return s
	}))

	require.True(t, emit.Delta("lost"))
	require.Eventually(t, func() bool { return turn.Superseded() == 1 }, 5*time.Second, 5*time.Millisecond)
	emit.Finish(generation.Result{})
	require.NoError(t, waitTurn(t, turn))

	m, err := st.Message(turn.SessionID, turn.PlaceholderID)
	require.NoError(t, err)
	assert.Empty(t, m.Text)
	assert.False(t, m.IsStreaming, "placeholder is finalized even when superseded")
	assert.Zero(t, turn.Deltas())
}

// ---------------------------------------------------------------------------
// Recording and usage
// ---------------------------------------------------------------------------

func TestSend_RecordsFinishedTurns(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("archive down")}
	gen := &replayGenerator{
		deltas: []string{"Hel", "lo"},
		result: generation.Result{Usage: domain.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}},
	}
	st, c := newTestController(t, gen, func(o *TurnControllerOpts) { o.Recorder = rec })

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))
	c.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.records, 1)
	r := rec.records[0]
	assert.Equal(t, turn.ID, r.TurnID)
	assert.Equal(t, "test", r.ChatKey)
	assert.Equal(t, turn.SessionID, r.SessionID)
	assert.Equal(t, "Hi", r.UserText)
	assert.Equal(t, "Hello", r.ResponseText)
	assert.Equal(t, domain.TurnCompleted, r.Outcome)
	assert.Equal(t, 2, r.DeltaCount)
	assert.True(t, decimal.RequireFromString("2.8").Equal(r.Cost), "got %s", r.Cost)
	assert.True(t, r.Cost.Equal(turn.Cost()))
	assert.Equal(t, "Hello", placeholderText(st, turn))
}

func TestSend_RecordsFailure(t *testing.T) {
	rec := &memoryRecorder{}
	_, c := newTestController(t, &replayGenerator{result: generation.Result{Err: errors.New("boom")}},
		func(o *TurnControllerOpts) { o.Recorder = rec })

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.Error(t, waitTurn(t, turn))
	c.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.records, 1)
	assert.Equal(t, domain.TurnFailed, rec.records[0].Outcome)
	assert.Equal(t, "boom", rec.records[0].ErrorText)
	assert.Empty(t, rec.records[0].ResponseText)
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"backend message", &generation.Error{Message: "quota"}, "quota"},
		{"wrapped backend message", errors.Join(errors.New("ctx"), &generation.Error{Message: "quota"}), "quota"},
		{"deadline", context.DeadlineExceeded, config.TimeoutErrorText},
		{"cancelled", context.Canceled, config.CancelledErrorText},
		{"plain", errors.New("connection reset"), "connection reset"},
		{"no message", errors.New(" "), config.GenericErrorText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureMessage(tt.err))
		})
	}
}

func TestTurn_CancelDirect(t *testing.T) {
	_, c := newTestController(t, silentGenerator{})

	turn, err := c.Send(context.Background(), "Hi", nil)
	require.NoError(t, err)
	turn.Cancel()
	assert.ErrorIs(t, waitTurn(t, turn), context.Canceled)
}

func TestTurnStateString(t *testing.T) {
	assert.Equal(t, "streaming", TurnStreaming.String())
	assert.Equal(t, "failed", TurnFailed.String())
	assert.True(t, TurnCompleted.Terminal())
	assert.False(t, TurnPlaceholderCreated.Terminal())
}

func TestRecorders(t *testing.T) {
	assert.Nil(t, Recorders(nil, nil))

	ok := &memoryRecorder{}
	failing := &memoryRecorder{err: errors.New("archive down")}
	r := Recorders(nil, ok, failing)

	err := r.RecordTurn(context.Background(), domain.TurnRecord{TurnID: "t1"})
	assert.ErrorContains(t, err, "archive down")
	assert.Len(t, ok.records, 1)
	assert.Len(t, failing.records, 1)
}
