package ingestion

import (
	"context"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ledger"

	"github.com/google/uuid"
)

// CommandService is the typed entry point for admin and API callers.
// High-throughput producers publish to NATS instead.
//
// A nil requestID is replaced with a fresh one, which makes the call
// non-idempotent across retries.
type CommandService struct {
	dispatcher *Dispatcher
}

func NewCommandService(dispatcher *Dispatcher) *CommandService {
	return &CommandService{dispatcher: dispatcher}
}

func requestID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

func (s *CommandService) Initialize(ctx context.Context, reqID, admin uuid.UUID) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.Initialize{RequestID: requestID(reqID), Admin: admin})
}

func (s *CommandService) RegisterTrader(ctx context.Context, reqID, trader uuid.UUID) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.RegisterTrader{RequestID: requestID(reqID), Trader: trader})
}

func (s *CommandService) RecordTrade(
	ctx context.Context,
	reqID, trader uuid.UUID,
	executionTime, tradePrice uint64,
	instrument string,
) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.RecordTrade{
		RequestID:     requestID(reqID),
		Trader:        trader,
		ExecutionTime: executionTime,
		TradePrice:    tradePrice,
		Instrument:    instrument,
	})
}

func (s *CommandService) RecordFailedTrade(ctx context.Context, reqID, trader uuid.UUID) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.RecordFailedTrade{RequestID: requestID(reqID), Trader: trader})
}

func (s *CommandService) DistributeRewards(
	ctx context.Context,
	reqID, admin uuid.UUID,
	candidates []ledger.TokenAccount,
) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.DistributeRewards{
		RequestID:  requestID(reqID),
		Admin:      admin,
		Candidates: candidates,
	})
}

func (s *CommandService) StakeTokens(ctx context.Context, reqID, trader uuid.UUID, amount uint64) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.StakeTokens{RequestID: requestID(reqID), Trader: trader, Amount: amount})
}

func (s *CommandService) WithdrawStake(ctx context.Context, reqID, trader, admin uuid.UUID, amount uint64) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.WithdrawStake{
		RequestID: requestID(reqID),
		Trader:    trader,
		Admin:     admin,
		Amount:    amount,
	})
}

func (s *CommandService) ClaimRewards(ctx context.Context, reqID, trader, admin uuid.UUID) (*core.CoreOutput, error) {
	return s.dispatcher.Submit(ctx, &event.ClaimRewards{RequestID: requestID(reqID), Trader: trader, Admin: admin})
}
