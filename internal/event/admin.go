package event

import (
	"XspdLeaderboard/internal/ledger"

	"github.com/google/uuid"
)

// Initialize creates the global ranking state with Admin as administrator.
type Initialize struct {
	RequestID uuid.UUID
	Admin     uuid.UUID
}

func (i *Initialize) IdempotencyKey() string { return i.RequestID.String() }
func (i *Initialize) EventType() EventType   { return EventTypeInitialize }
func (i *Initialize) Signer() uuid.UUID      { return i.Admin }
func (i *Initialize) TraderID() uuid.UUID    { return uuid.Nil }

// RegisterTrader creates a trader's stats record.
type RegisterTrader struct {
	RequestID uuid.UUID
	Trader    uuid.UUID
}

func (r *RegisterTrader) IdempotencyKey() string { return r.RequestID.String() }
func (r *RegisterTrader) EventType() EventType   { return EventTypeRegisterTrader }
func (r *RegisterTrader) Signer() uuid.UUID      { return r.Trader }
func (r *RegisterTrader) TraderID() uuid.UUID    { return r.Trader }

// DistributeRewards pays every ranked trader that has a matching candidate
// token account.
type DistributeRewards struct {
	RequestID  uuid.UUID
	Admin      uuid.UUID
	Candidates []ledger.TokenAccount
}

func (d *DistributeRewards) IdempotencyKey() string { return d.RequestID.String() }
func (d *DistributeRewards) EventType() EventType   { return EventTypeDistributeRewards }
func (d *DistributeRewards) Signer() uuid.UUID      { return d.Admin }
func (d *DistributeRewards) TraderID() uuid.UUID    { return uuid.Nil }

// ClaimRewards pays a trader's accrued reward and resets their counters.
// Requires the admin co-signature for the treasury debit.
type ClaimRewards struct {
	RequestID uuid.UUID
	Trader    uuid.UUID
	Admin     uuid.UUID
}

func (c *ClaimRewards) IdempotencyKey() string { return c.RequestID.String() }
func (c *ClaimRewards) EventType() EventType   { return EventTypeClaimRewards }
func (c *ClaimRewards) Signer() uuid.UUID      { return c.Trader }
func (c *ClaimRewards) TraderID() uuid.UUID    { return c.Trader }
