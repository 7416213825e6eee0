package core

import (
	"fmt"

	"GridLedger/internal/event"
	"GridLedger/internal/ledger"
	"GridLedger/internal/state"
)

// applySettlement reduces a debtor's negative balance after the bridge has
// received the external stablecoin payment. The converted cents move from
// the settled aggregate to the debtor, so the settled balance goes negative
// as debt is repaid and the zero-sum circle stays closed.
func (c *Core) applySettlement(e *event.DebtSettled) (*ledger.Batch, error) {
	if e.LedgerCents <= 0 || e.ExternalAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !c.registry.IsMember(e.Debtor) {
		return nil, fmt.Errorf("%w: %s", state.ErrUnknownMember, e.Debtor)
	}

	balance := c.balances.MemberBalance(e.Debtor)
	if balance >= 0 {
		return nil, ErrNoDebt
	}
	debt := -balance
	if e.LedgerCents > debt {
		return nil, fmt.Errorf("%w: debt=%d, settlement=%d",
			ErrSettlementExceedsDebt, debt, e.LedgerCents)
	}

	batch := ledger.NewBatch(e.IdempotencyKey(), c.sequence, e.Timestamp.UnixMicro())
	batch.Add(
		ledger.NewMemberAccountKey(e.Debtor),
		ledger.NewAggregateAccountKey(ledger.AggregateSettled),
		e.LedgerCents,
		ledger.TransferDebtSettlement,
	)
	if err := c.balances.ApplyBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}
