package ledger

import (
	"github.com/google/uuid"
)

// TokenSupply mirrors the positive side of member cash balances as a
// transferable token supply: tokenBalance(addr) == max(balance(addr), 0).
// Debt (the negative side) is never tokenized.
type TokenSupply struct {
	balances map[uuid.UUID]int64

	minted int64 // cumulative, for metrics
	burned int64
}

func NewTokenSupply() *TokenSupply {
	return &TokenSupply{
		balances: make(map[uuid.UUID]int64),
	}
}

// Sync adjusts an address's token balance to match its cash balance,
// minting on increases above zero and burning on decreases. Returns the
// minted and burned amounts (at most one is non-zero).
func (ts *TokenSupply) Sync(addr uuid.UUID, cashBalance int64) (minted, burned int64) {
	target := cashBalance
	if target < 0 {
		target = 0
	}

	current := ts.balances[addr]
	switch {
	case target > current:
		minted = target - current
		ts.minted += minted
	case target < current:
		burned = current - target
		ts.burned += burned
	default:
		return 0, 0
	}

	if target == 0 {
		delete(ts.balances, addr)
	} else {
		ts.balances[addr] = target
	}
	return minted, burned
}

// TokenBalance returns the token balance for an address.
func (ts *TokenSupply) TokenBalance(addr uuid.UUID) int64 {
	return ts.balances[addr]
}

// TotalSupply returns the sum of all token balances.
func (ts *TokenSupply) TotalSupply() int64 {
	var total int64
	for _, v := range ts.balances {
		total += v
	}
	return total
}

// Snapshot returns a copy of all token balances keyed by address string.
func (ts *TokenSupply) Snapshot() map[string]int64 {
	snapshot := make(map[string]int64, len(ts.balances))
	for addr, v := range ts.balances {
		snapshot[addr.String()] = v
	}
	return snapshot
}

// Restore replaces all token balances from a snapshot.
func (ts *TokenSupply) Restore(snapshot map[string]int64) error {
	balances := make(map[uuid.UUID]int64, len(snapshot))
	for s, v := range snapshot {
		addr, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		balances[addr] = v
	}
	ts.balances = balances
	return nil
}

// Reset wipes the token supply. Only the emergency-reset path uses this.
func (ts *TokenSupply) Reset() {
	ts.balances = make(map[uuid.UUID]int64)
}
