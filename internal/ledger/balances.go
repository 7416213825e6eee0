package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory signed cash balances per account.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyTransfer applies a single transfer to balances
func (bt *BalanceTracker) ApplyTransfer(t Transfer) {
	bt.balances[t.DebitAccount] += t.Amount
	bt.balances[t.CreditAccount] -= t.Amount
}

// ApplyBatch applies all transfers in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, t := range batch.Transfers {
		bt.ApplyTransfer(t)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// MemberBalance returns a member's signed cash-credit balance.
// Negative values are debt.
func (bt *BalanceTracker) MemberBalance(addr uuid.UUID) int64 {
	return bt.GetBalance(NewMemberAccountKey(addr))
}

// AggregateBalance returns one of the export/import/settled pseudo-balances.
func (bt *BalanceTracker) AggregateBalance(kind AggregateKind) int64 {
	return bt.GetBalance(NewAggregateAccountKey(kind))
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// Snapshot returns a copy of all balances keyed by account path,
// suitable for state hashing and persistence.
func (bt *BalanceTracker) Snapshot() map[string]int64 {
	snapshot := make(map[string]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k.AccountPath()] = v
	}
	return snapshot
}

// Restore replaces all balances from a snapshot.
func (bt *BalanceTracker) Restore(snapshot map[string]int64) error {
	balances := make(map[AccountKey]int64, len(snapshot))
	for path, v := range snapshot {
		key, err := ParseAccountPath(path)
		if err != nil {
			return err
		}
		balances[key] = v
	}
	bt.balances = balances
	return nil
}

// Reset wipes all balances. Only the emergency-reset path uses this.
func (bt *BalanceTracker) Reset() {
	bt.balances = make(map[AccountKey]int64)
}

// SortedPaths returns account paths in deterministic order for hashing.
func (bt *BalanceTracker) SortedPaths() []string {
	paths := make([]string, 0, len(bt.balances))
	for k := range bt.balances {
		paths = append(paths, k.AccountPath())
	}
	sort.Strings(paths)
	return paths
}

// BalanceByPath returns the balance for a rendered account path.
func (bt *BalanceTracker) BalanceByPath(path string) int64 {
	key, err := ParseAccountPath(path)
	if err != nil {
		return 0
	}
	return bt.balances[key]
}
