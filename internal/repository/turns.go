package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/shopspring/decimal"
)

// TurnArchive stores finished turns for analytics. It is write-mostly:
// sessions are never rebuilt from it.
type TurnArchive struct {
	db *pgxpool.Pool
}

func NewTurnArchive(db *pgxpool.Pool) *TurnArchive {
	return &TurnArchive{db: db}
}

const insertTurn = `
INSERT INTO turns (
    id, chat_key, session_id, model, user_text, response_text, attachments,
    outcome, error_text, prompt_tokens, completion_tokens, cost,
    delta_count, superseded_count, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13, $14, $15, $16)
ON CONFLICT (id) DO NOTHING`

// RecordTurn archives a finished turn. Recording the same turn twice is a
// no-op.
func (a *TurnArchive) RecordTurn(ctx context.Context, rec domain.TurnRecord) error {
	id, err := uuid.Parse(rec.TurnID)
	if err != nil {
		return fmt.Errorf("parse turn id %q: %w", rec.TurnID, err)
	}
	_, err = a.db.Exec(ctx, insertTurn,
		id,
		rec.ChatKey,
		rec.SessionID,
		string(rec.Model),
		rec.UserText,
		rec.ResponseText,
		rec.Attachments,
		string(rec.Outcome),
		rec.ErrorText,
		rec.Usage.PromptTokens,
		rec.Usage.CompletionTokens,
		rec.Cost.String(),
		rec.DeltaCount,
		rec.SupersededCnt,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

const selectStats = `
SELECT
    count(*),
    count(*) FILTER (WHERE outcome = 'failed'),
    coalesce(sum(prompt_tokens), 0),
    coalesce(sum(completion_tokens), 0),
    coalesce(sum(cost), 0)::text
FROM turns
WHERE chat_key = $1`

// Stats aggregates every archived turn of a chat.
func (a *TurnArchive) Stats(ctx context.Context, chatKey string) (domain.TurnStats, error) {
	var (
		st   domain.TurnStats
		cost string
	)
	err := a.db.QueryRow(ctx, selectStats, chatKey).Scan(
		&st.Turns, &st.Failed, &st.PromptTokens, &st.CompletionTokens, &cost,
	)
	if err != nil {
		return domain.TurnStats{}, fmt.Errorf("select turn stats: %w", err)
	}
	st.Cost, err = decimal.NewFromString(cost)
	if err != nil {
		return domain.TurnStats{}, fmt.Errorf("parse cost %q: %w", cost, err)
	}
	return st, nil
}
