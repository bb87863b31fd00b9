package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TurnOutcome string

const (
	TurnCompleted TurnOutcome = "completed"
	TurnFailed    TurnOutcome = "failed"
)

// Usage is the token accounting reported by the generation backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// TurnRecord summarizes a finished turn for archiving.
type TurnRecord struct {
	TurnID        string
	ChatKey       string
	SessionID     string
	Model         ModelID
	UserText      string
	ResponseText  string
	Attachments   int
	Outcome       TurnOutcome
	ErrorText     string
	Usage         Usage
	Cost          decimal.Decimal
	DeltaCount    int
	SupersededCnt int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// TurnStats aggregates the archived turns of one chat.
type TurnStats struct {
	Turns            int64
	Failed           int64
	PromptTokens     int64
	CompletionTokens int64
	Cost             decimal.Decimal
}
