package generation

import (
	"context"

	"github.com/set-night/mindchat/internal/domain"
)

// Request is one generation call: the conversation so far (ending with the
// new user message) plus the raw new turn.
type Request struct {
	Model       domain.ModelID
	History     []domain.Message
	Text        string
	Attachments []domain.Attachment
}

// Result is the terminal event of a stream. A nil Err means success.
type Result struct {
	Err   error
	Usage domain.Usage
}

// Stream delivers ordered text deltas on Deltas, then exactly one Result on
// Done. Deltas is closed before the Result is sent; Done is closed after it.
type Stream struct {
	Deltas <-chan string
	Done   <-chan Result
}

// Generator produces a response stream for a request. Implementations must
// deliver the terminal Result even when no delta was produced, and must stop
// sending once ctx is done so an abandoned stream never blocks.
type Generator interface {
	Stream(ctx context.Context, req Request) *Stream
}

// Emitter is the producing side of a Stream.
type Emitter struct {
	ctx    context.Context
	deltas chan string
	done   chan Result
}

// NewStream returns a Stream and the Emitter that feeds it. The producer
// calls Delta any number of times and then Finish exactly once.
func NewStream(ctx context.Context, buffer int) (*Stream, *Emitter) {
	deltas := make(chan string, buffer)
	done := make(chan Result, 1)
	return &Stream{Deltas: deltas, Done: done}, &Emitter{ctx: ctx, deltas: deltas, done: done}
}

// Delta sends one text fragment. It returns false when ctx is done and the
// producer should stop.
func (e *Emitter) Delta(text string) bool {
	select {
	case e.deltas <- text:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Finish closes the delta channel and delivers the terminal result.
func (e *Emitter) Finish(res Result) {
	close(e.deltas)
	e.done <- res
	close(e.done)
}
