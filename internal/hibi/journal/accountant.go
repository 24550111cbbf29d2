package journal

import (
	"context"
	"log/slog"
)

// Accountant records token usage after a successful completion.
type Accountant struct {
	ledger Ledger
}

// NewAccountant returns an Accountant writing to ledger.
func NewAccountant(ledger Ledger) *Accountant {
	return &Accountant{ledger: ledger}
}

// Record adds the deltas to userID's counters.  A failure is returned so the
// caller can log it; it never retracts output already produced.
func (a *Accountant) Record(ctx context.Context, userID string, promptTokens, completionTokens int) error {
	if promptTokens < 0 || completionTokens < 0 {
		return ErrNegativeUsage
	}
	if err := a.ledger.RecordUsage(ctx, userID, promptTokens, completionTokens); err != nil {
		return WrapStorage("record usage", err)
	}
	slog.Debug("usage recorded", "user", userID,
		"prompt_tokens", promptTokens, "completion_tokens", completionTokens)
	return nil
}
