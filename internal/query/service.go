package query

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to projection tables. All
// responses include as_of_sequence for freshness semantics; live
// point-in-time reads are served by the core, not here.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns the projected balance for an account path.
func (qs *QueryService) GetBalance(ctx context.Context, accountPath string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var balance int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		AccountPath:  accountPath,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetTransferHistory returns transfers touching an account, newest first,
// with cursor-based pagination on sequence.
func (qs *QueryService) GetTransferHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	afterSequence *int64,
) ([]TransferHistoryEntry, error) {
	query := `
		SELECT transfer_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, transfer_type, timestamp
		FROM event_log.transfers
		WHERE debit_account = $1 OR credit_account = $1
	`
	args := []interface{}{accountPath}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TransferHistoryEntry
	for rows.Next() {
		var e TransferHistoryEntry
		if err := rows.Scan(
			&e.TransferID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.TransferType,
			&e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetEventLog returns event-log entries, newest first.
func (qs *QueryService) GetEventLog(ctx context.Context, limit int, afterSequence *int64) ([]EventLogEntry, error) {
	query := `
		SELECT sequence, event_type, idempotency_key, timestamp
		FROM event_log.events
	`
	args := []interface{}{}
	argIdx := 1

	if afterSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks hash-chain continuity and the zero-sum property
// over the persisted projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report.AsOfSequence = asOfSeq

	// Hash chain continuity: each event's prev_hash must equal the
	// previous event's state_hash.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Zero-sum: all projected balances must sum to zero.
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projections.balances
	`).Scan(&report.BalanceResidual)
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.BalanceResidual == 0
	return report, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
