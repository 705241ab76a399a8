package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	fpmath "XspdLeaderboard/internal/math"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUnauthorizedTransfer = errors.New("transfer not authorized by account owner")
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances    map[AccountKey]uint64
	authorities map[AccountKey]uuid.UUID
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:    make(map[AccountKey]uint64),
		authorities: make(map[AccountKey]uuid.UUID),
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) uint64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance (snapshot restore, funding).
func (bt *BalanceTracker) SetBalance(key AccountKey, balance uint64) {
	bt.balances[key] = balance
}

// SetAuthority records who may debit key.
func (bt *BalanceTracker) SetAuthority(key AccountKey, authority uuid.UUID) {
	bt.authorities[key] = authority
}

// Authority returns who may debit key. Trader accounts are owned by the trader.
func (bt *BalanceTracker) Authority(key AccountKey) (uuid.UUID, bool) {
	if a, ok := bt.authorities[key]; ok {
		return a, true
	}
	return key.OwnerOf()
}

// ApplyBatch validates and applies all transfers, or none of them.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	working, err := bt.Stage(batch)
	if err != nil {
		return err
	}
	bt.Commit(working)
	return nil
}

// Stage validates batch and returns the post-batch balances of the touched
// accounts without applying them.
func (bt *BalanceTracker) Stage(batch *Batch) (map[AccountKey]uint64, error) {
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}

	working := make(map[AccountKey]uint64, len(batch.Transfers)*2)
	get := func(k AccountKey) uint64 {
		if v, ok := working[k]; ok {
			return v
		}
		return bt.balances[k]
	}

	for _, t := range batch.Transfers {
		authority, ok := bt.Authority(t.From)
		if !ok || authority != t.Authority {
			return nil, fmt.Errorf("%w: %s by %s", ErrUnauthorizedTransfer, t.From.AccountPath(), t.Authority)
		}

		from := get(t.From)
		if from < t.Amount {
			return nil, fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, t.From.AccountPath(), from, t.Amount)
		}
		to, err := fpmath.AddU64(get(t.To), t.Amount)
		if err != nil {
			return nil, fmt.Errorf("credit %s: %w", t.To.AccountPath(), err)
		}

		working[t.From] = from - t.Amount
		working[t.To] = to
	}
	return working, nil
}

// Commit writes staged balances.
func (bt *BalanceTracker) Commit(working map[AccountKey]uint64) {
	for k, v := range working {
		bt.balances[k] = v
	}
}

// TotalSupply sums every balance.
func (bt *BalanceTracker) TotalSupply() (uint64, error) {
	return bt.TotalSupplyWith(nil)
}

// TotalSupplyWith sums every balance as if working had been committed.
func (bt *BalanceTracker) TotalSupplyWith(working map[AccountKey]uint64) (uint64, error) {
	var total uint64
	for k, b := range bt.balances {
		if v, ok := working[k]; ok {
			b = v
		}
		var err error
		if total, err = fpmath.AddU64(total, b); err != nil {
			return 0, err
		}
	}
	for k, v := range working {
		if _, ok := bt.balances[k]; ok {
			continue
		}
		var err error
		if total, err = fpmath.AddU64(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]uint64 {
	snapshot := make(map[AccountKey]uint64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// MemoryLedger is an in-process TransferLedger backed by a BalanceTracker.
// Safe for concurrent use.
type MemoryLedger struct {
	mu        sync.Mutex
	tracker   *BalanceTracker
	validator *InvariantValidator
	minted    uint64
	history   []Transfer
}

func NewMemoryLedger() *MemoryLedger {
	tracker := NewBalanceTracker()
	return &MemoryLedger{tracker: tracker, validator: NewInvariantValidator(tracker)}
}

// Execute implements TransferLedger.
func (m *MemoryLedger) Execute(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.IsEmpty() {
		return nil
	}

	if err := m.validator.ValidateBatch(batch); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	working, err := m.tracker.Stage(batch)
	if err != nil {
		return err
	}
	if err := m.validator.ValidateStaged(working, m.minted); err != nil {
		return err
	}
	m.tracker.Commit(working)
	m.history = append(m.history, batch.Transfers...)
	return nil
}

// Fund credits an account from outside the ledger (minting for setup).
func (m *MemoryLedger) Fund(key AccountKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fpmath.AddU64(m.tracker.GetBalance(key), amount)
	if err != nil {
		return err
	}
	minted, err := fpmath.AddU64(m.minted, amount)
	if err != nil {
		return err
	}
	m.tracker.SetBalance(key, next)
	m.minted = minted
	return nil
}

// SetAuthority records who may debit key.
func (m *MemoryLedger) SetAuthority(key AccountKey, authority uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker.SetAuthority(key, authority)
}

// Balance returns the balance of key.
func (m *MemoryLedger) Balance(key AccountKey) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.GetBalance(key)
}

// History returns a copy of every executed transfer in order.
func (m *MemoryLedger) History() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.history))
	copy(out, m.history)
	return out
}

// Minted returns the total credited through Fund.
func (m *MemoryLedger) Minted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minted
}

// Tracker exposes the underlying tracker for invariant checks.
func (m *MemoryLedger) Tracker() *BalanceTracker {
	return m.tracker
}
