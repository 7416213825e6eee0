package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"GridLedger/internal/core"
)

// SnapshotManager saves and loads full-state snapshots. Snapshots bound
// restart time: on boot the service restores the latest snapshot and
// replays only the event-log tail after it.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a core snapshot as a JSON blob keyed by sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap core.SnapshotState) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots (sequence, state_hash, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sequence) DO NOTHING
	`, snap.Sequence, snap.StateHash[:], blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadLatestSnapshot returns the most recent snapshot, or ok=false when the
// event log has never been snapshotted.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (core.SnapshotState, bool, error) {
	var blob []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&blob)
	if err == sql.ErrNoRows {
		return core.SnapshotState{}, false, nil
	}
	if err != nil {
		return core.SnapshotState{}, false, err
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(blob, &snap); err != nil {
		return core.SnapshotState{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// PruneSnapshots keeps the newest n snapshots and deletes the rest.
func (sm *SnapshotManager) PruneSnapshots(ctx context.Context, keep int) error {
	_, err := sm.db.ExecContext(ctx, `
		DELETE FROM event_log.snapshots
		WHERE sequence NOT IN (
			SELECT sequence FROM event_log.snapshots
			ORDER BY sequence DESC
			LIMIT $1
		)
	`, keep)
	return err
}
