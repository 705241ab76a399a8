package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeTrader AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// System account names.
const (
	SystemTreasury    = "treasury"
	SystemStakingPool = "staking_pool"
)

// AccountKey identifies a token account. Trader accounts use the trader id as
// EntityID; system accounts use the name bytes; external accounts use the
// account address.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
}

// NewTraderAccountKey returns the trader's own token account.
func NewTraderAccountKey(trader uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeTrader,
		EntityID: trader,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
	}
}

// NewExternalAccountKey creates a key for an externally addressed token account.
func NewExternalAccountKey(address uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeExternal,
		EntityID: address,
	}
}

// TreasuryAccount is the reward funding account.
func TreasuryAccount() AccountKey {
	return NewSystemAccountKey(SystemTreasury)
}

// StakingPoolAccount is the custodial pool holding staked tokens.
func StakingPoolAccount() AccountKey {
	return NewSystemAccountKey(SystemStakingPool)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeTrader:
		return fmt.Sprintf("trader:%s:token", uuid.UUID(k.EntityID))
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", strings.TrimRight(string(k.EntityID[:]), "\x00"))
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", uuid.UUID(k.EntityID))
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "trader" && parts[2] == "token":
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse trader account %q: %w", path, err)
		}
		return NewTraderAccountKey(id), nil
	case len(parts) == 2 && parts[0] == "system":
		if len(parts[1]) == 0 || len(parts[1]) > 16 {
			return AccountKey{}, fmt.Errorf("invalid system account name %q", parts[1])
		}
		return NewSystemAccountKey(parts[1]), nil
	case len(parts) == 2 && parts[0] == "external":
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse external account %q: %w", path, err)
		}
		return NewExternalAccountKey(id), nil
	}
	return AccountKey{}, fmt.Errorf("unrecognized account path %q", path)
}

// TokenAccount is a candidate payout destination supplied by the caller of
// DistributeRewards.
type TokenAccount struct {
	Key   AccountKey
	Owner uuid.UUID
}

// OwnerOf returns the implicit owner of trader-scoped accounts.
func (k AccountKey) OwnerOf() (uuid.UUID, bool) {
	if k.Scope == AccountScopeTrader {
		return uuid.UUID(k.EntityID), true
	}
	return uuid.Nil, false
}
