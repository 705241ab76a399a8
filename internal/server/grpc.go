package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"XspdLeaderboard/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway. Both serve the
// same LeaderboardServer.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	health        *health.Server
	svc           LeaderboardServer
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	log           zerolog.Logger
}

// NewGRPCServer creates a gRPC server with the leaderboard, health and
// reflection services registered.
func NewGRPCServer(grpcAddr, httpAddr string, svc LeaderboardServer, healthChecker *observability.HealthChecker) *GRPCServer {
	grpcServer := grpc.NewServer()
	RegisterLeaderboardServer(grpcServer, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		health:        healthServer,
		svc:           svc,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: healthChecker,
		log:           observability.NewLogger("server"),
	}
}

// SetServing flips the gRPC health status of the leaderboard service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler returns the HTTP handler: health endpoints plus the JSON gateway.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux, err := NewGatewayMux(s.svc)
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway serves HTTP/JSON for tooling, dashboards and curl
// (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewGatewayMux maps the REST routes onto svc.
func NewGatewayMux(svc LeaderboardServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{"POST", "/v1/initialize", route(svc, bindBody[InitializeRequest], LeaderboardServer.Initialize)},
		{"POST", "/v1/traders", route(svc, bindBody[RegisterTraderRequest], LeaderboardServer.RegisterTrader)},
		{"POST", "/v1/trades", route(svc, bindBody[RecordTradeRequest], LeaderboardServer.RecordTrade)},
		{"POST", "/v1/trades/failed", route(svc, bindBody[RecordFailedTradeRequest], LeaderboardServer.RecordFailedTrade)},
		{"POST", "/v1/rewards/distribute", route(svc, bindBody[DistributeRewardsRequest], LeaderboardServer.DistributeRewards)},
		{"POST", "/v1/rewards/claim", route(svc, bindBody[ClaimRewardsRequest], LeaderboardServer.ClaimRewards)},
		{"POST", "/v1/stakes", route(svc, bindBody[StakeTokensRequest], LeaderboardServer.StakeTokens)},
		{"POST", "/v1/stakes/withdraw", route(svc, bindBody[WithdrawStakeRequest], LeaderboardServer.WithdrawStake)},

		{"GET", "/v1/leaderboard", route(svc, bindEmpty, LeaderboardServer.GetLeaderboard)},
		{"GET", "/v1/global", route(svc, bindEmpty, LeaderboardServer.GetGlobalState)},
		{"GET", "/v1/traders/{trader}/stats", route(svc, bindTrader, LeaderboardServer.GetTraderStats)},
		{"GET", "/v1/traders/{trader}/stake", route(svc, bindTrader, LeaderboardServer.GetStake)},
		{"GET", "/v1/traders/{trader}/rewards", route(svc, bindRewardHistory, LeaderboardServer.GetRewardHistory)},

		{"POST", "/v1/admin/snapshot", route(svc, bindEmpty, LeaderboardServer.TakeSnapshot)},
		{"POST", "/v1/admin/rebuild", route(svc, bindEmpty, LeaderboardServer.RebuildProjections)},
		{"GET", "/v1/admin/event-log", route(svc, bindEmpty, LeaderboardServer.GetEventLogInfo)},
		{"GET", "/v1/admin/integrity", route(svc, bindEmpty, LeaderboardServer.VerifyIntegrity)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.path, err)
		}
	}
	return mux, nil
}
