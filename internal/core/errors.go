package core

import (
	"errors"

	fpmath "XspdLeaderboard/internal/math"
)

// Rejection errors. Every one aborts the command with no state change.
var (
	ErrOverflow            = fpmath.ErrOverflow
	ErrTooSoon             = errors.New("not enough time has passed since the last reward distribution")
	ErrInsufficientStake   = errors.New("insufficient staked amount")
	ErrCooldownPeriod      = errors.New("cooldown period has not passed yet")
	ErrInvalidTrade        = errors.New("trade price does not match oracle")
	ErrTooManyFailedTrades = errors.New("too many failed trades, please slow down")
	ErrNoEligibleRewards   = errors.New("no eligible rewards to claim")

	ErrNotInitialized          = errors.New("leaderboard not initialized")
	ErrAlreadyInitialized      = errors.New("leaderboard already initialized")
	ErrTraderNotRegistered     = errors.New("trader not registered")
	ErrTraderAlreadyRegistered = errors.New("trader already registered")
	ErrUnauthorized            = errors.New("caller is not the admin")
	ErrInvalidCommand          = errors.New("invalid command")
	ErrPriceUnavailable        = errors.New("oracle price unavailable")
	ErrTransferFailed          = errors.New("token transfer failed")
)

// RejectReason maps an error to a short metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrTooSoon):
		return "too_soon"
	case errors.Is(err, ErrInsufficientStake):
		return "insufficient_stake"
	case errors.Is(err, ErrCooldownPeriod):
		return "cooldown"
	case errors.Is(err, ErrInvalidTrade):
		return "invalid_trade"
	case errors.Is(err, ErrTooManyFailedTrades):
		return "too_many_failed_trades"
	case errors.Is(err, ErrNoEligibleRewards):
		return "no_eligible_rewards"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrTraderNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrTraderAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal"
	}
}
