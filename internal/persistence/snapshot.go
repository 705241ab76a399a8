package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"XspdLeaderboard/internal/core"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1: JSON-encoded core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager handles creating and loading engine snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// StoredEvent is an event log row as read back for replay.
type StoredEvent struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Trader         uuid.NullUUID
	Now            int64
	OraclePrice    uint64
	Payload        []byte
	StateHash      [32]byte
	PrevHash       [32]byte
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot, unverified. Returns the encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash[:], snapshotFormatVersion, len(data), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// MarkVerified marks a snapshot as safe to restore from. A snapshot is safe
// once the event log holds every sequence it covers.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// Checkpoint saves snap and marks it verified when the event log already
// reaches its sequence. An unverified snapshot is picked up by a later
// Checkpoint or ignored on restore. Returns the encoded size.
func (sm *SnapshotManager) Checkpoint(ctx context.Context, snap *core.SnapshotState) (size int, verified bool, err error) {
	size, err = sm.SaveSnapshot(ctx, snap)
	if err != nil {
		return 0, false, fmt.Errorf("save snapshot: %w", err)
	}
	logged, err := sm.GetLatestSequence(ctx)
	if err != nil {
		return size, false, err
	}
	if logged < snap.Sequence {
		return size, false, nil
	}
	if err := sm.MarkVerified(ctx, snap.Sequence); err != nil {
		return size, false, fmt.Errorf("mark snapshot verified: %w", err)
	}
	return size, true, nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	var (
		data    []byte
		version int
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadEventsFrom loads up to limit events starting at fromSequence, in order.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]StoredEvent, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, trader_id, now_ts,
		       oracle_price::TEXT, payload, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			e                   StoredEvent
			price               string
			stateHash, prevHash []byte
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Trader, &e.Now,
			&price, &e.Payload, &stateHash, &prevHash,
		); err != nil {
			return nil, err
		}
		if e.OraclePrice, err = parseNumeric(price); err != nil {
			return nil, fmt.Errorf("sequence %d: %w", e.Sequence, err)
		}
		if len(stateHash) != 32 || len(prevHash) != 32 {
			return nil, fmt.Errorf("sequence %d: malformed hash", e.Sequence)
		}
		copy(e.StateHash[:], stateHash)
		copy(e.PrevHash[:], prevHash)
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
