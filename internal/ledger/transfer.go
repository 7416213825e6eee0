package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// TransferType represents the purpose of a transfer entry
type TransferType int32

const (
	TransferSelfConsumption TransferType = iota
	TransferMarketPurchase
	TransferImportPurchase
	TransferExportCredit
	TransferDebtSettlement
	TransferAdjustment
)

func (tt TransferType) String() string {
	switch tt {
	case TransferSelfConsumption:
		return "self_consumption"
	case TransferMarketPurchase:
		return "market_purchase"
	case TransferImportPurchase:
		return "import_purchase"
	case TransferExportCredit:
		return "export_credit"
	case TransferDebtSettlement:
		return "debt_settlement"
	case TransferAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Transfer represents a single double-entry cash movement in ledger cents.
// The debit account receives the amount; the credit account pays it.
type Transfer struct {
	TransferID    uuid.UUID    // Unique identifier
	BatchID       uuid.UUID    // Groups entries produced by one event
	EventRef      string       // Idempotency key of source event
	Sequence      int64        // Global event sequence
	DebitAccount  AccountKey   // Account receiving (balance increases)
	CreditAccount AccountKey   // Account paying (balance decreases)
	Amount        int64        // Ledger cents (ALWAYS positive)
	TransferType  TransferType // Entry type
	Timestamp     int64        // Versioned input timestamp (epoch microseconds)
}

// Batch represents the set of transfers produced by a single event.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Transfers []Transfer
}

// NewBatch starts an empty batch for an event.
func NewBatch(eventRef string, sequence int64, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Add appends a transfer to the batch. Transfers between the same account
// (cash moving nowhere) are dropped rather than recorded.
func (b *Batch) Add(debit, credit AccountKey, amount int64, tt TransferType) {
	if debit == credit || amount == 0 {
		return
	}
	b.Transfers = append(b.Transfers, Transfer{
		TransferID:    uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		TransferType:  tt,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed.
// Note on the zero-sum invariant: each transfer is balanced by construction
// (a single positive amount moves from the credit account to the debit
// account), so Σ debits == Σ credits is guaranteed per-entry. Multi-leg
// events use multiple entries under one batch_id, each individually balanced.
func (b *Batch) Validate() error {
	for _, t := range b.Transfers {
		if t.Amount <= 0 {
			return fmt.Errorf("transfer %s has non-positive amount: %d", t.TransferID, t.Amount)
		}

		if t.BatchID != b.BatchID {
			return fmt.Errorf("transfer %s has mismatched batch_id", t.TransferID)
		}

		if t.DebitAccount == t.CreditAccount {
			return fmt.Errorf("transfer %s has same debit and credit account", t.TransferID)
		}
	}

	return nil
}
