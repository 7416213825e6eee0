package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
	tokens  *TokenSupply
}

func NewInvariantValidator(tracker *BalanceTracker, tokens *TokenSupply) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
		tokens:  tokens,
	}
}

// ValidateBatchBalance verifies a batch is balanced and well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum: the signed
// balances of all member accounts plus the export, import and settled
// aggregates must sum to exactly zero.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	total := v.tracker.ComputeGlobalBalance()
	if total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// VerifyZeroSum reports whether the ledger is zero-sum and the residual.
func (v *InvariantValidator) VerifyZeroSum() (bool, int64) {
	total := v.tracker.ComputeGlobalBalance()
	return total == 0, total
}

// ValidateTokenMirror verifies tokenBalance(addr) == max(balance(addr), 0)
// for one address.
func (v *InvariantValidator) ValidateTokenMirror(addr uuid.UUID) error {
	cash := v.tracker.MemberBalance(addr)
	want := cash
	if want < 0 {
		want = 0
	}
	got := v.tokens.TokenBalance(addr)
	if got != want {
		return fmt.Errorf("token mirror broken for %s: token=%d, cash=%d", addr, got, cash)
	}
	return nil
}
