package query

import "time"

// BalanceResponse is a projected account balance with freshness info.
type BalanceResponse struct {
	AccountPath  string `json:"account_path"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TransferHistoryEntry is one row of an account's transfer history.
type TransferHistoryEntry struct {
	TransferID    string `json:"transfer_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	TransferType  string `json:"transfer_type"`
	Timestamp     int64  `json:"timestamp"`
}

// EventLogEntry is one row of the event log.
type EventLogEntry struct {
	Sequence       int64     `json:"sequence"`
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      time.Time `json:"timestamp"`
}

// IntegrityReport summarizes hash-chain and zero-sum verification over the
// persisted state.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	BalanceResidual int64   `json:"balance_residual"`
	AsOfSequence    int64   `json:"as_of_sequence"`
}
