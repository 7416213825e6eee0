package event

import (
	"time"

	"github.com/google/uuid"
)

// DebtSettled reduces a debtor's negative balance after the bridge has
// received and forwarded the equivalent external stablecoin payment.
// ExternalAmount is in the stablecoin's smallest unit (6 decimals);
// LedgerCents is the converted amount applied to the ledger.
type DebtSettled struct {
	SettlementID   uuid.UUID
	Debtor         uuid.UUID
	ExternalAmount int64
	LedgerCents    int64
	Sequence       int64
	Timestamp      time.Time
}

func (e *DebtSettled) IdempotencyKey() string { return e.SettlementID.String() }
func (e *DebtSettled) EventType() EventType   { return EventTypeDebtSettled }
func (e *DebtSettled) SourceSequence() int64  { return e.Sequence }
