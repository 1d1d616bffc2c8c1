package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// UsageRecorder keeps a per-turn ledger of the token usage reported on the
// final stream frame. Recording is best effort; the engine only logs a
// failed write.
type UsageRecorder struct {
	db              *pgxpool.Pool
	promptPrice     decimal.Decimal
	completionPrice decimal.Decimal
}

// NewUsageRecorder creates a recorder with prices in USD per 1M tokens.
func NewUsageRecorder(db *pgxpool.Pool, promptPricePer1M, completionPricePer1M float64) *UsageRecorder {
	return &UsageRecorder{
		db:              db,
		promptPrice:     decimal.NewFromFloat(promptPricePer1M),
		completionPrice: decimal.NewFromFloat(completionPricePer1M),
	}
}

func (r *UsageRecorder) Record(ctx context.Context, conversationID uuid.UUID, usage TokenUsage) error {
	cost := TurnCost(usage, r.promptPrice, r.completionPrice)
	_, err := r.db.Exec(ctx,
		`INSERT INTO turn_usage (conversation_id, prompt_tokens, completion_tokens, cost)
		 VALUES ($1, $2, $3, $4)`,
		conversationID, usage.PromptTokens, usage.CompletionTokens, cost,
	)
	if err != nil {
		return fmt.Errorf("insert turn usage: %w", err)
	}
	return nil
}

// TurnCost calculates the cost of one turn from per-1M-token prices.
func TurnCost(usage TokenUsage, promptPricePer1M, completionPricePer1M decimal.Decimal) decimal.Decimal {
	million := decimal.NewFromInt(1_000_000)
	promptCost := promptPricePer1M.Mul(decimal.NewFromInt(int64(usage.PromptTokens))).Div(million)
	completionCost := completionPricePer1M.Mul(decimal.NewFromInt(int64(usage.CompletionTokens))).Div(million)
	return promptCost.Add(completionCost)
}
