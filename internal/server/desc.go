package server

import (
	"context"

	"XspdLeaderboard/internal/query"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "xspd.leaderboard.v1.Leaderboard"

// LeaderboardServer is the gRPC surface: the eight commands, the read-model
// queries and a few admin calls. Messages are JSON (see CodecName).
type LeaderboardServer interface {
	Initialize(context.Context, *InitializeRequest) (*CommandResponse, error)
	RegisterTrader(context.Context, *RegisterTraderRequest) (*CommandResponse, error)
	RecordTrade(context.Context, *RecordTradeRequest) (*CommandResponse, error)
	RecordFailedTrade(context.Context, *RecordFailedTradeRequest) (*CommandResponse, error)
	DistributeRewards(context.Context, *DistributeRewardsRequest) (*CommandResponse, error)
	StakeTokens(context.Context, *StakeTokensRequest) (*CommandResponse, error)
	WithdrawStake(context.Context, *WithdrawStakeRequest) (*CommandResponse, error)
	ClaimRewards(context.Context, *ClaimRewardsRequest) (*CommandResponse, error)

	GetLeaderboard(context.Context, *Empty) (*query.LeaderboardResponse, error)
	GetGlobalState(context.Context, *Empty) (*query.GlobalStateResponse, error)
	GetTraderStats(context.Context, *TraderRequest) (*query.TraderStatsResponse, error)
	GetStake(context.Context, *TraderRequest) (*query.StakeResponse, error)
	GetRewardHistory(context.Context, *RewardHistoryRequest) (*RewardHistoryResponse, error)

	TakeSnapshot(context.Context, *Empty) (*SnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildResponse, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
}

var _ LeaderboardServer = (*Service)(nil)

// unary builds a method descriptor the way protoc-gen-go-grpc lays out its
// generated handlers.
func unary[Req, Resp any](name string, call func(LeaderboardServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LeaderboardServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(LeaderboardServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LeaderboardServiceDesc describes LeaderboardServer for grpc.Server.RegisterService.
var LeaderboardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LeaderboardServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Initialize", LeaderboardServer.Initialize),
		unary("RegisterTrader", LeaderboardServer.RegisterTrader),
		unary("RecordTrade", LeaderboardServer.RecordTrade),
		unary("RecordFailedTrade", LeaderboardServer.RecordFailedTrade),
		unary("DistributeRewards", LeaderboardServer.DistributeRewards),
		unary("StakeTokens", LeaderboardServer.StakeTokens),
		unary("WithdrawStake", LeaderboardServer.WithdrawStake),
		unary("ClaimRewards", LeaderboardServer.ClaimRewards),
		unary("GetLeaderboard", LeaderboardServer.GetLeaderboard),
		unary("GetGlobalState", LeaderboardServer.GetGlobalState),
		unary("GetTraderStats", LeaderboardServer.GetTraderStats),
		unary("GetStake", LeaderboardServer.GetStake),
		unary("GetRewardHistory", LeaderboardServer.GetRewardHistory),
		unary("TakeSnapshot", LeaderboardServer.TakeSnapshot),
		unary("RebuildProjections", LeaderboardServer.RebuildProjections),
		unary("GetEventLogInfo", LeaderboardServer.GetEventLogInfo),
		unary("VerifyIntegrity", LeaderboardServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xspd/leaderboard/v1/leaderboard.json",
}

// RegisterLeaderboardServer registers srv on s.
func RegisterLeaderboardServer(s grpc.ServiceRegistrar, srv LeaderboardServer) {
	s.RegisterService(&LeaderboardServiceDesc, srv)
}
