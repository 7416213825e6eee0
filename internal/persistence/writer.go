package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventRow is the persisted form of an event envelope.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	SourceSequence int64
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// TransferRow is the persisted form of a ledger transfer.
type TransferRow struct {
	TransferID    string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	TransferType  string
	Timestamp     int64
}

// EventLogWriter batch-writes events and transfers to Postgres.
// Inserts are idempotent (ON CONFLICT DO NOTHING) so replays after a crash
// between flush and ack are harmless.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteEventBatch inserts event rows using a multi-row statement.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, tx *sql.Tx) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO event_log.events
			(sequence, event_type, idempotency_key, source_sequence, payload, state_hash, prev_hash, timestamp)
		VALUES `)

	args := make([]interface{}, 0, len(events)*8)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, e.Sequence, e.EventType, e.IdempotencyKey, e.SourceSequence,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp)
	}
	sb.WriteString(` ON CONFLICT (sequence) DO NOTHING`)

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// WriteTransferBatch inserts transfer rows using a multi-row statement.
func (w *EventLogWriter) WriteTransferBatch(ctx context.Context, transfers []TransferRow, tx *sql.Tx) error {
	if len(transfers) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO event_log.transfers
			(transfer_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, transfer_type, timestamp)
		VALUES `)

	args := make([]interface{}, 0, len(transfers)*9)
	for i, t := range transfers {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args, t.TransferID, t.BatchID, t.EventRef, t.Sequence,
			t.DebitAccount, t.CreditAccount, t.Amount, t.TransferType, t.Timestamp)
	}
	sb.WriteString(` ON CONFLICT (transfer_id) DO NOTHING`)

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("write transfers: %w", err)
	}
	return nil
}

// LoadEventsAfter streams event rows with sequence > after, in order.
// Used to replay the event-log tail on startup.
func (w *EventLogWriter) LoadEventsAfter(ctx context.Context, after int64) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, source_sequence, payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence > $1
		ORDER BY sequence ASC
	`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.SourceSequence,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadRecentIdempotencyKeys returns composite event_type:key strings for
// the most recent events, used to warm the core's LRU on restart.
func (w *EventLogWriter) LoadRecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key
		FROM event_log.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var et, key string
		if err := rows.Scan(&et, &key); err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%s:%s", et, key))
	}
	return keys, rows.Err()
}
