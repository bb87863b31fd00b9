package service

import (
	"fmt"

	"github.com/set-night/mindchat/internal/domain"
	"github.com/shopspring/decimal"
)

var tokensPerPriceUnit = decimal.NewFromInt(1_000_000)

// CalculateCost estimates the cost of a turn from its token usage and the
// model's per-1M-token prices. Unknown models cost nothing.
func CalculateCost(id domain.ModelID, usage domain.Usage) decimal.Decimal {
	model, err := domain.LookupModel(id)
	if err != nil {
		return decimal.Zero
	}
	promptCost := decimal.NewFromInt(int64(usage.PromptTokens)).Mul(decimal.NewFromFloat(model.PromptPrice))
	completionCost := decimal.NewFromInt(int64(usage.CompletionTokens)).Mul(decimal.NewFromFloat(model.CompletionPrice))
	return promptCost.Add(completionCost).Div(tokensPerPriceUnit)
}

// FormatUsage renders the cost line shown under a response.
func FormatUsage(usage domain.Usage, cost decimal.Decimal) string {
	return fmt.Sprintf("💰 Cost: $%s\n📊 Tokens: %d→%d", cost.StringFixed(6), usage.PromptTokens, usage.CompletionTokens)
}
