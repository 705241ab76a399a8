package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"XspdLeaderboard/internal/ledger"
	fpmath "XspdLeaderboard/internal/math"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresLedger executes transfer batches against ledger.token_accounts.
// Each batch runs in one transaction, so a failed leg undoes the whole batch.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Execute implements ledger.TransferLedger. A batch whose request id already
// executed is a no-op, which covers a command re-applied after a crash
// between the ledger commit and the event log write.
func (pl *PostgresLedger) Execute(ctx context.Context, batch *ledger.Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	tx, err := pl.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger.executed_batches (request_id, batch_id, sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id) DO NOTHING
	`, batch.RequestID, batch.BatchID, batch.Sequence)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, t := range batch.Transfers {
		if err := debit(ctx, tx, t); err != nil {
			return err
		}
		if err := credit(ctx, tx, t.To, t.Amount); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func debit(ctx context.Context, tx *sql.Tx, t ledger.Transfer) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger.token_accounts
		SET balance = balance - $1::NUMERIC, updated_at = NOW()
		WHERE account_path = $2 AND authority = $3 AND balance >= $1::NUMERIC
	`, numeric(t.Amount), t.From.AccountPath(), t.Authority)
	if err != nil {
		return fmt.Errorf("debit %s: %w", t.From.AccountPath(), err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// Work out which precondition failed.
	var (
		balance   string
		authority uuid.NullUUID
	)
	err = tx.QueryRowContext(ctx, `
		SELECT balance::TEXT, authority FROM ledger.token_accounts WHERE account_path = $1
	`, t.From.AccountPath()).Scan(&balance, &authority)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if owner, ok := t.From.OwnerOf(); ok && owner == t.Authority {
			return fmt.Errorf("%w: %s has 0, need %d", ledger.ErrInsufficientFunds, t.From.AccountPath(), t.Amount)
		}
		return fmt.Errorf("%w: %s by %s", ledger.ErrUnauthorizedTransfer, t.From.AccountPath(), t.Authority)
	case err != nil:
		return fmt.Errorf("inspect %s: %w", t.From.AccountPath(), err)
	case !authority.Valid || authority.UUID != t.Authority:
		return fmt.Errorf("%w: %s by %s", ledger.ErrUnauthorizedTransfer, t.From.AccountPath(), t.Authority)
	default:
		return fmt.Errorf("%w: %s has %s, need %d", ledger.ErrInsufficientFunds, t.From.AccountPath(), balance, t.Amount)
	}
}

// credit upserts the destination. Trader accounts are created owned by the
// trader; other new accounts have no debit authority until one is set.
func credit(ctx context.Context, ex execer, key ledger.AccountKey, amount uint64) error {
	owner, ok := key.OwnerOf()
	authority := uuid.NullUUID{UUID: owner, Valid: ok}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO ledger.token_accounts (account_path, balance, authority)
		VALUES ($1, $2::NUMERIC, $3)
		ON CONFLICT (account_path) DO UPDATE
		SET balance = ledger.token_accounts.balance + EXCLUDED.balance, updated_at = NOW()
	`, key.AccountPath(), numeric(amount), authority)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "check_violation" {
			return fmt.Errorf("credit %s: %w", key.AccountPath(), fpmath.ErrOverflow)
		}
		return fmt.Errorf("credit %s: %w", key.AccountPath(), err)
	}
	return nil
}

// SeedSystemAccounts creates the treasury and staking pool with admin as
// debit authority, funding the treasury on first creation only.
func (pl *PostgresLedger) SeedSystemAccounts(ctx context.Context, admin uuid.UUID, treasuryBalance uint64) error {
	_, err := pl.db.ExecContext(ctx, `
		INSERT INTO ledger.token_accounts (account_path, balance, authority)
		VALUES ($1, $2::NUMERIC, $4), ($3, 0, $4)
		ON CONFLICT (account_path) DO UPDATE SET authority = EXCLUDED.authority
	`, ledger.TreasuryAccount().AccountPath(), numeric(treasuryBalance),
		ledger.StakingPoolAccount().AccountPath(), admin)
	if err != nil {
		return fmt.Errorf("seed system accounts: %w", err)
	}
	return nil
}

// Fund credits an account from outside the ledger.
func (pl *PostgresLedger) Fund(ctx context.Context, key ledger.AccountKey, amount uint64) error {
	return credit(ctx, pl.db, key, amount)
}

// Balance returns the balance of key; unknown accounts hold zero.
func (pl *PostgresLedger) Balance(ctx context.Context, key ledger.AccountKey) (uint64, error) {
	var balance string
	err := pl.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM ledger.token_accounts WHERE account_path = $1
	`, key.AccountPath()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseNumeric(balance)
}
