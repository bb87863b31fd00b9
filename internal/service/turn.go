package service

import (
	"context"
	"sync"
	"time"

	"github.com/set-night/mindchat/internal/domain"
	"github.com/shopspring/decimal"
)

// TurnState is the position of a turn in its lifecycle.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnUserAppended
	TurnPlaceholderCreated
	TurnStreaming
	TurnCompleted
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnUserAppended:
		return "user_appended"
	case TurnPlaceholderCreated:
		return "placeholder_created"
	case TurnStreaming:
		return "streaming"
	case TurnCompleted:
		return "completed"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TurnState) Terminal() bool {
	return s == TurnCompleted || s == TurnFailed
}

// Turn is one user message and the model response streamed into its
// placeholder. All fields set at creation are immutable.
type Turn struct {
	ID            string
	SessionID     string
	UserMessageID string
	PlaceholderID string
	Model         domain.ModelID
	UserText      string
	Attachments   int
	StartedAt     time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      TurnState
	err        error
	deltas     int
	superseded int
	usage      domain.Usage
	cost       decimal.Decimal
	finishedAt time.Time
}

func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the turn reached COMPLETED or FAILED.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn finishes or ctx is done, returning the turn
// failure (nil on completion) or ctx's error.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel abandons the turn; it ends FAILED unless it already finished.
func (t *Turn) Cancel() {
	t.cancel()
}

// Err returns the failure that ended the turn.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Superseded returns how many deltas were dropped because the placeholder
// was no longer the last message of its session.
func (t *Turn) Superseded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.superseded
}

func (t *Turn) Deltas() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deltas
}

func (t *Turn) Usage() domain.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

func (t *Turn) Cost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

func (t *Turn) setState(s TurnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// finish moves the turn into a terminal state. It reports false, changing
// nothing, when the turn already finished.
func (t *Turn) finish(s TurnState, err error, usage domain.Usage, cost decimal.Decimal, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = s
	t.err = err
	t.usage = usage
	t.cost = cost
	t.finishedAt = at
	return true
}
