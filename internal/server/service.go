package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/ingestion"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/persistence"
	"XspdLeaderboard/internal/projection"
	"XspdLeaderboard/internal/query"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerDeps holds all dependencies needed by the leaderboard service.
// Queries, Snapshots and DB may be nil; the endpoints that need them then
// return Unavailable.
type ServerDeps struct {
	Commands   *ingestion.CommandService
	Dispatcher *ingestion.Dispatcher
	Queries    *query.QueryService
	Snapshots  *persistence.SnapshotManager
	DB         *sql.DB
	StartTime  time.Time
}

// Service implements LeaderboardServer.
type Service struct {
	deps ServerDeps
}

func NewService(deps ServerDeps) *Service {
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &Service{deps: deps}
}

// ============================================================================
// Commands
// ============================================================================

func commandResponse(out *core.CoreOutput, err error) (*CommandResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	if out == nil {
		return &CommandResponse{Duplicate: true}, nil
	}
	evt := ingestion.NewPublishableEvent(out)
	return &CommandResponse{Event: &evt}, nil
}

func (s *Service) Initialize(ctx context.Context, req *InitializeRequest) (*CommandResponse, error) {
	return commandResponse(s.deps.Commands.Initialize(ctx, req.RequestID, req.Admin))
}

func (s *Service) RegisterTrader(ctx context.Context, req *RegisterTraderRequest) (*CommandResponse, error) {
	return commandResponse(s.deps.Commands.RegisterTrader(ctx, req.RequestID, req.Trader))
}

func (s *Service) RecordTrade(ctx context.Context, req *RecordTradeRequest) (*CommandResponse, error) {
	return commandResponse(s.deps.Commands.RecordTrade(ctx,
		req.RequestID, req.Trader, req.ExecutionTime, req.TradePrice, req.Instrument))
}

func (s *Service) RecordFailedTrade(ctx context.Context, req *RecordFailedTradeRequest) (*CommandResponse, error) {
	return commandResponse(s.deps.Commands.RecordFailedTrade(ctx, req.RequestID, req.Trader))
}

func (s *Service) DistributeRewards(ctx context.Context, req *DistributeRewardsRequest) (*CommandResponse, error) {
	candidates := make([]ledger.TokenAccount, 0, len(req.Candidates))
	for i, c := range req.Candidates {
		key, err := ledger.ParseAccountPath(c.Account)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "candidates[%d]: %v", i, err)
		}
		candidates = append(candidates, ledger.TokenAccount{Key: key, Owner: c.Owner})
	}
	return commandResponse(s.deps.Commands.DistributeRewards(ctx, req.RequestID, req.Admin, candidates))
}

func (s *Service) StakeTokens(ctx context.Context, req *StakeTokensRequest) (*CommandResponse, error) {
	return commandResponse(s.deps.Commands.StakeTokens(ctx, req.RequestID, req.Trader, req.Amount))
}

func (s *Service) WithdrawStake(ctx context.Context, req *WithdrawStakeRequest) (*CommandResponse, error) {
	return commandResponse(s.deps.Commands.WithdrawStake(ctx, req.RequestID, req.Trader, req.Admin, req.Amount))
}

func (s *Service) ClaimRewards(ctx context.Context, req *ClaimRewardsRequest) (*CommandResponse, error) {
	return commandResponse(s.deps.Commands.ClaimRewards(ctx, req.RequestID, req.Trader, req.Admin))
}

// ============================================================================
// Queries
// ============================================================================

func (s *Service) queries() (*query.QueryService, error) {
	if s.deps.Queries == nil {
		return nil, status.Error(codes.Unavailable, "read models are not configured")
	}
	return s.deps.Queries, nil
}

func (s *Service) GetLeaderboard(ctx context.Context, _ *Empty) (*query.LeaderboardResponse, error) {
	qs, err := s.queries()
	if err != nil {
		return nil, err
	}
	resp, err := qs.GetLeaderboard(ctx)
	return resp, toStatus(err)
}

func (s *Service) GetGlobalState(ctx context.Context, _ *Empty) (*query.GlobalStateResponse, error) {
	qs, err := s.queries()
	if err != nil {
		return nil, err
	}
	resp, err := qs.GetGlobalState(ctx)
	return resp, toStatus(err)
}

func (s *Service) GetTraderStats(ctx context.Context, req *TraderRequest) (*query.TraderStatsResponse, error) {
	qs, err := s.queries()
	if err != nil {
		return nil, err
	}
	resp, err := qs.GetTraderStats(ctx, req.Trader)
	return resp, toStatus(err)
}

func (s *Service) GetStake(ctx context.Context, req *TraderRequest) (*query.StakeResponse, error) {
	qs, err := s.queries()
	if err != nil {
		return nil, err
	}
	resp, err := qs.GetStake(ctx, req.Trader)
	return resp, toStatus(err)
}

func (s *Service) GetRewardHistory(ctx context.Context, req *RewardHistoryRequest) (*RewardHistoryResponse, error) {
	qs, err := s.queries()
	if err != nil {
		return nil, err
	}
	payouts, err := qs.GetRewardHistory(ctx, req.Trader, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RewardHistoryResponse{Payouts: payouts}, nil
}

// ============================================================================
// Admin
// ============================================================================

// capture reads a snapshot of engine state on the engine goroutine.
func (s *Service) capture(ctx context.Context) (*core.SnapshotState, error) {
	var snap *core.SnapshotState
	if err := s.deps.Dispatcher.Do(ctx, func(e *core.Engine) {
		snap = e.CreateSnapshotState()
	}); err != nil {
		return nil, toStatus(err)
	}
	return snap, nil
}

func (s *Service) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.deps.Snapshots == nil {
		return nil, status.Error(codes.Unavailable, "snapshot store is not configured")
	}
	snap, err := s.capture(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Sequence < 0 {
		return nil, status.Error(codes.FailedPrecondition, "no commands applied yet")
	}
	_, verified, err := s.deps.Snapshots.Checkpoint(ctx, snap)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &SnapshotResponse{Sequence: snap.Sequence, Verified: verified}, nil
}

func (s *Service) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	if s.deps.DB == nil {
		return nil, status.Error(codes.Unavailable, "read models are not configured")
	}
	snap, err := s.capture(ctx)
	if err != nil {
		return nil, err
	}
	if err := projection.Rebuild(ctx, s.deps.DB, snap); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildResponse{Sequence: snap.Sequence}, nil
}

func (s *Service) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	resp := &EventLogInfoResponse{
		LastLoggedSequence: -1,
		Uptime:             time.Since(s.deps.StartTime).Round(time.Second).String(),
	}
	if err := s.deps.Dispatcher.Do(ctx, func(e *core.Engine) {
		hash := e.GetStateHash()
		resp.LastAppliedSequence = e.GetSequence() - 1
		resp.StateHash = hex.EncodeToString(hash[:])
		resp.Traders = e.TraderCount()
	}); err != nil {
		return nil, toStatus(err)
	}

	if s.deps.Snapshots != nil {
		latest, err := s.deps.Snapshots.GetLatestSequence(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
		}
		resp.LastLoggedSequence = latest
	}
	return resp, nil
}

func (s *Service) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	qs, err := s.queries()
	if err != nil {
		return nil, err
	}
	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

// ============================================================================
// Helpers
// ============================================================================

// toStatus maps engine and query errors to gRPC status codes. nil stays nil.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, core.ErrTraderNotRegistered):
		return codes.NotFound
	case errors.Is(err, core.ErrAlreadyInitialized),
		errors.Is(err, core.ErrTraderAlreadyRegistered):
		return codes.AlreadyExists
	case errors.Is(err, core.ErrUnauthorized),
		errors.Is(err, ledger.ErrUnauthorizedTransfer):
		return codes.PermissionDenied
	case errors.Is(err, core.ErrInvalidCommand),
		errors.Is(err, core.ErrInvalidTrade),
		errors.Is(err, core.ErrOverflow):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrTooManyFailedTrades):
		return codes.ResourceExhausted
	case errors.Is(err, core.ErrNotInitialized),
		errors.Is(err, core.ErrTooSoon),
		errors.Is(err, core.ErrCooldownPeriod),
		errors.Is(err, core.ErrInsufficientStake),
		errors.Is(err, core.ErrNoEligibleRewards),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrPriceUnavailable),
		errors.Is(err, core.ErrTransferFailed),
		errors.Is(err, ingestion.ErrDispatcherStopped):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
