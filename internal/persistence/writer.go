package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"XspdLeaderboard/internal/core"

	"github.com/google/uuid"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events and transfers to Postgres using multi-row
// INSERTs. Writes are idempotent, so a retried batch is harmless.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Trader         uuid.NullUUID
	Now            int64
	OraclePrice    uint64
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
}

// TransferRow represents a row in event_log.transfers
type TransferRow struct {
	TransferID   uuid.UUID
	BatchID      uuid.UUID
	Sequence     int64
	FromAccount  string
	ToAccount    string
	Authority    uuid.UUID
	Amount       uint64
	TransferType string
	Timestamp    int64
}

// Record is everything one applied command writes to the event log.
type Record struct {
	Event     EventRow
	Transfers []TransferRow
}

// NewRecord converts an applied command into log rows. payload is the
// command's wire encoding.
func NewRecord(out *core.CoreOutput, payload []byte) Record {
	env := out.Envelope
	rec := Record{
		Event: EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Trader:         uuid.NullUUID{UUID: env.Trader, Valid: env.Trader != uuid.Nil},
			Now:            env.Now,
			OraclePrice:    env.OraclePrice,
			Payload:        payload,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		},
	}
	if out.Batch != nil {
		for _, t := range out.Batch.Transfers {
			rec.Transfers = append(rec.Transfers, TransferRow{
				TransferID:   t.TransferID,
				BatchID:      t.BatchID,
				Sequence:     t.Sequence,
				FromAccount:  t.From.AccountPath(),
				ToAccount:    t.To.AccountPath(),
				Authority:    t.Authority,
				Amount:       t.Amount,
				TransferType: t.TransferType.String(),
				Timestamp:    t.Timestamp,
			})
		}
	}
	return rec
}

// numeric renders a uint64 for a NUMERIC(20,0) column. database/sql rejects
// uint64 arguments with the high bit set.
func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// parseNumeric is the inverse of numeric.
func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, trader_id, now_ts, oracle_price, payload, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Trader, e.Now,
			numeric(e.OraclePrice), string(e.Payload), e.StateHash, e.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch writes a batch of transfers to event_log.transfers.
func (w *EventLogWriter) WriteTransferBatch(ctx context.Context, ex execer, transfers []TransferRow) error {
	if len(transfers) == 0 {
		return nil
	}

	const cols = 9
	query := `INSERT INTO event_log.transfers
		(transfer_id, batch_id, sequence, from_account, to_account, authority, amount, transfer_type, ts)
		VALUES `

	values := make([]string, 0, len(transfers))
	args := make([]interface{}, 0, len(transfers)*cols)

	for i, t := range transfers {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			t.TransferID, t.BatchID, t.Sequence, t.FromAccount, t.ToAccount,
			t.Authority, numeric(t.Amount), t.TransferType, t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (transfer_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders returns "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
