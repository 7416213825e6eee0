package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Output mirrors the data projection workers need per processed event.
// The orchestrator bridges between core.CoreOutput and this.
type Output struct {
	Sequence  int64
	EventType string
	Transfers []TransferEntry
}

// TransferEntry is a simplified transfer for projection consumption.
type TransferEntry struct {
	DebitAccount  string
	CreditAccount string
	Amount        int64
}

// Worker updates projection tables from processed events. The projection
// channel is non-blocking with drop: if projections fall behind they can be
// rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop. Outputs at or below the stored
// watermark are skipped: startup replay re-emits already-projected events.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&w.lastSeq); err != nil {
		w.lastSeq = -1
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= w.lastSeq {
				continue
			}

			if err := w.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			w.lastSeq = output.Sequence
		}
	}
}

func (w *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range output.Transfers {
		if err := w.updateBalanceProjection(ctx, tx, output.Sequence, t); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, seq int64, t TransferEntry) error {
	// Debit account: balance increases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
	`, t.DebitAccount, t.Amount, seq); err != nil {
		return err
	}

	// Credit account: balance decreases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, -$2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $2, last_sequence = $3
	`, t.CreditAccount, t.Amount, seq); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds the balance projection from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit totals first, then subtract credit totals
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.transfers
		GROUP BY debit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.transfers
		GROUP BY credit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
