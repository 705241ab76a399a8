package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"XspdLeaderboard/internal/clock"
	"XspdLeaderboard/internal/config"
	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ingestion"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/observability"
	"XspdLeaderboard/internal/oracle"
	"XspdLeaderboard/internal/persistence"
	"XspdLeaderboard/internal/projection"
	"XspdLeaderboard/internal/query"
	"XspdLeaderboard/internal/server"
	"XspdLeaderboard/migrations"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	replayBatchSize        = 1000
	snapshotCheckInterval  = 10 * time.Second
	rawEventChanSize       = 4096
	shutdownGracePeriod    = 30 * time.Second
	dispatcherStopDeadline = 10 * time.Second
)

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("xspd leaderboard starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	// ingestCtx stops intake; workerCtx outlives it so queued output drains.
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ingestCtx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	// --- Run SQL migrations ---
	var migrationFiles fs.FS = migrations.Files
	if cfg.MigrationsDir != "" {
		migrationFiles = os.DirFS(cfg.MigrationsDir)
	}
	if err := persistence.NewMigrator(db, migrationFiles).Up(ingestCtx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Str("url", cfg.NATSURL).Msg("nats connected")

	if err := ingestion.EnsureStreams(ingestCtx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ingestCtx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// --- Oracle ---
	var (
		feed   core.OracleFeed
		prices ingestion.PriceSink
	)
	switch cfg.OracleMode {
	case config.OracleNATS:
		cache := oracle.NewPriceCache(0, cfg.OracleMaxAge, clock.System{}.Now, metrics)
		feed, prices = cache, cache
	default:
		feed = oracle.StaticFeed{Price: cfg.StaticOraclePrice}
	}

	// --- Token ledger ---
	tokenLedger, err := setupLedger(ingestCtx, cfg, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("token ledger")
	}

	// --- Recovery: load snapshot ---
	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatestSnapshot(ingestCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}

	startSequence := int64(0)
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistChan := make(chan persistence.Record, cfg.PersistChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	// --- Engine ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	engine := core.NewEngine(core.EngineConfig{
		StartSequence:       startSequence,
		DefaultInstrument:   cfg.DefaultInstrument,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
	}, core.Dependencies{
		Clock:          clock.System{},
		Oracle:         feed,
		Ledger:         tokenLedger,
		DBChecker:      dbChecker,
		Metrics:        metrics,
		PersistChan:    persistCoreChan,
		ProjectionChan: projectionChan,
	})

	if snap != nil {
		if err := engine.RestoreFromSnapshot(snap); err != nil {
			log.Fatal().Err(err).Msg("restore snapshot")
		}
	}

	// --- Event Replay ---
	replayed, err := replayEventsFromLog(ingestCtx, snapMgr, engine, startSequence, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("event replay failed")
	}
	if replayed > 0 {
		log.Info().Int64("events", replayed).Int64("next_sequence", engine.GetSequence()).Msg("replayed event log")
	}

	// --- LRU Warming ---
	keys, err := dbChecker.RecentKeys(ingestCtx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		log.Warn().Err(err).Msg("warm idempotency cache")
	} else {
		engine.WarmLRU(keys)
	}

	// --- Projections catch-up ---
	if err := catchUpProjections(ingestCtx, db, engine, log); err != nil {
		log.Fatal().Err(err).Msg("rebuild projections")
	}

	// --- Dispatcher & services ---
	dispatcher := ingestion.NewDispatcher(engine, cfg.CommandChanSize, metrics)
	commands := ingestion.NewCommandService(dispatcher)
	queries := query.NewQueryService(db, metrics)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, server.NewService(server.ServerDeps{
		Commands:   commands,
		Dispatcher: dispatcher,
		Queries:    queries,
		Snapshots:  snapMgr,
		DB:         db,
		StartTime:  time.Now(),
	}), healthChecker)

	// --- NATS intake ---
	subjects := ingestion.DefaultSubjects()
	if prices == nil {
		subjects = withoutPriceTicks(subjects)
	}
	rawEventChan := make(chan ingestion.RawEvent, rawEventChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ingestCtx, subjects); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}
	loop := ingestion.NewLoop(dispatcher, prices, subjects, metrics)

	// --- Start goroutines ---
	errChan := make(chan error, 10)
	report := func(name string, err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("%s: %w", name, err)
		}
	}

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		report("persistence", persistWorker.Run(workerCtx))
	}()

	// 2. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
	go func() {
		report("projection", projWorker.Run(workerCtx))
	}()

	// 3. Outbound publisher
	publisher := ingestion.NewOutboundPublisher(js, publishChan)
	go func() {
		report("publisher", publisher.Run(workerCtx))
	}()

	// 4. Core output bridge: core.CoreOutput -> persistence.Record + outbound event
	go bridgeOutputs(persistCoreChan, persistChan, publishChan, metrics, log)

	// 5. Dispatcher: sole owner of the engine from here on
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		report("dispatcher", dispatcher.Run(ingestCtx))
	}()

	// 6. NATS -> dispatcher
	go func() {
		report("ingestion", loop.Run(ingestCtx, rawEventChan))
	}()

	// 7. gRPC server
	go func() {
		report("grpc", grpcServer.StartGRPC(ingestCtx))
	}()

	// 8. HTTP/JSON gateway
	go func() {
		report("http", grpcServer.StartHTTPGateway(ingestCtx))
	}()

	// 9. Periodic snapshots
	go runPeriodicSnapshots(ingestCtx, dispatcher, snapMgr, cfg.SnapshotInterval, metrics, log)

	// 10. Prometheus metrics server
	go func() {
		report("metrics", serveMetrics(ingestCtx, cfg.MetricsAddr, log))
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Info().
		Int64("next_sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Str("oracle", cfg.OracleMode).
		Str("ledger", cfg.LedgerMode).
		Msg("xspd leaderboard ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the engine finish, drain output, then snapshot.
	healthChecker.SetReady(false)
	natsSubscriber.Stop()
	stopIngest()

	select {
	case <-dispatcherDone:
	case <-time.After(dispatcherStopDeadline):
		log.Error().Msg("dispatcher did not stop in time")
		os.Exit(1)
	}

	// The engine no longer runs, so its output channels can be closed.
	close(persistCoreChan)
	close(projectionChan)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancelShutdown()

	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		log.Error().Msg("persistence did not drain before the deadline")
	}

	if err := takeSnapshot(shutdownCtx, engine.CreateSnapshotState(), snapMgr, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	stopWorkers()
	log.Info().Msg("xspd leaderboard shutdown complete")
}

// setupLedger builds the token ledger named by cfg.LedgerMode and seeds the
// treasury and staking pool for cfg.LedgerAdmin.
func setupLedger(ctx context.Context, cfg config.Config, db *sql.DB, log zerolog.Logger) (ledger.TransferLedger, error) {
	var admin uuid.UUID
	if cfg.LedgerAdmin != "" {
		var err error
		if admin, err = uuid.Parse(cfg.LedgerAdmin); err != nil {
			return nil, fmt.Errorf("ledger_admin: %w", err)
		}
	} else {
		log.Warn().Msg("ledger_admin not set: treasury and staking pool have no debit authority")
	}

	switch cfg.LedgerMode {
	case config.LedgerMemory:
		log.Warn().Msg("in-memory token ledger: balances are lost on restart")
		ml := ledger.NewMemoryLedger()
		if admin != uuid.Nil {
			ml.SetAuthority(ledger.TreasuryAccount(), admin)
			ml.SetAuthority(ledger.StakingPoolAccount(), admin)
		}
		if err := ml.Fund(ledger.TreasuryAccount(), cfg.TreasuryInitialBalance); err != nil {
			return nil, fmt.Errorf("fund treasury: %w", err)
		}
		return ml, nil

	default:
		pl := persistence.NewPostgresLedger(db)
		if admin != uuid.Nil {
			if err := pl.SeedSystemAccounts(ctx, admin, cfg.TreasuryInitialBalance); err != nil {
				return nil, err
			}
		}
		return pl, nil
	}
}

// replayEventsFromLog re-applies logged commands from fromSequence to the
// head of the log. Each must reproduce its recorded state hash.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	engine *core.Engine,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, error) {
	start := time.Now()
	var replayed int64

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from sequence %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			eventType := event.ParseEventType(row.EventType)
			cmd, err := ingestion.ParseCommand(eventType, row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("sequence %d: %w", row.Sequence, err)
			}
			env := &event.EventEnvelope{
				Sequence:       row.Sequence,
				IdempotencyKey: row.IdempotencyKey,
				EventType:      eventType,
				Trader:         row.Trader.UUID,
				Now:            row.Now,
				OraclePrice:    row.OraclePrice,
				StateHash:      row.StateHash,
				PrevHash:       row.PrevHash,
			}
			if err := engine.Replay(ctx, env, cmd); err != nil {
				return replayed, err
			}
			replayed++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	metrics.ReplayEventsTotal.Add(float64(replayed))
	metrics.ReplayDuration.Set(time.Since(start).Seconds())
	return replayed, nil
}

// catchUpProjections rebuilds the read models when they lag the engine.
// Runs before the dispatcher starts, while the engine is still local.
func catchUpProjections(ctx context.Context, db *sql.DB, engine *core.Engine, log zerolog.Logger) error {
	watermark, err := projection.Watermark(ctx, db)
	if err != nil {
		return err
	}
	applied := engine.GetSequence() - 1
	if watermark >= applied {
		return nil
	}
	log.Info().Int64("watermark", watermark).Int64("applied", applied).Msg("projections behind, rebuilding")
	return projection.Rebuild(ctx, db, engine.CreateSnapshotState())
}

// bridgeOutputs turns engine output into event log records and outbound
// events. It returns once in is closed and drained.
func bridgeOutputs(
	in <-chan core.CoreOutput,
	persistOut chan<- persistence.Record,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	defer close(persistOut)
	defer close(publishOut)

	for out := range in {
		payload, err := ingestion.EncodeCommand(out.Command)
		if err != nil {
			log.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("encode command payload")
			payload = []byte("null")
		}
		persistOut <- persistence.NewRecord(&out, payload)

		select {
		case publishOut <- ingestion.NewPublishableEvent(&out):
		default:
			metrics.PublishDrops.Inc()
		}
	}
}

// runPeriodicSnapshots checkpoints engine state every interval applied
// commands.
func runPeriodicSnapshots(
	ctx context.Context,
	dispatcher *ingestion.Dispatcher,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	if interval <= 0 {
		return
	}

	lastSnapshotSeq := int64(-1)
	ticker := time.NewTicker(snapshotCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var snap *core.SnapshotState
			err := dispatcher.Do(ctx, func(e *core.Engine) {
				if e.GetSequence()-1-lastSnapshotSeq >= interval {
					snap = e.CreateSnapshotState()
				}
			})
			if err != nil || snap == nil {
				continue
			}
			if err := takeSnapshot(ctx, snap, snapMgr, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = snap.Sequence
			log.Info().Int64("sequence", snap.Sequence).Msg("periodic snapshot")
		}
	}
}

// takeSnapshot persists snap and records snapshot metrics.
func takeSnapshot(
	ctx context.Context,
	snap *core.SnapshotState,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	if snap.Sequence < 0 {
		return nil
	}
	start := time.Now()

	size, verified, err := snapMgr.Checkpoint(ctx, snap)
	if err != nil {
		return err
	}
	if !verified {
		return fmt.Errorf("snapshot at sequence %d is ahead of the event log", snap.Sequence)
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(size))
	metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	return nil
}

func withoutPriceTicks(subjects []ingestion.SubjectConfig) []ingestion.SubjectConfig {
	out := make([]ingestion.SubjectConfig, 0, len(subjects))
	for _, s := range subjects {
		if s.EventType != ingestion.PriceTickType {
			out = append(out, s)
		}
	}
	return out
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
