package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GridLedger/internal/bridge"
	"GridLedger/internal/config"
	"GridLedger/internal/core"
	"GridLedger/internal/ingestion"
	"GridLedger/internal/observability"
	"GridLedger/internal/persistence"
	"GridLedger/internal/projection"
	"GridLedger/internal/query"
	"GridLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("GRID_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	logger := observability.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Msg("migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.Core.PersistBuffer)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Core.ProjectionBuffer)

	persistWorkerChan := make(chan persistence.CoreOutput, cfg.Core.PersistBuffer)
	projectionWorkerChan := make(chan projection.Output, cfg.Core.ProjectionBuffer)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Core.PersistBuffer)

	// --- Core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	ledgerCore := core.NewCore(core.Config{
		IdempotencyCapacity: cfg.Core.IdempotencyCapacity,
		DBChecker:           dbChecker,
		Metrics:             metrics,
		Logger:              observability.NewLogger("core"),
		PersistChan:         persistCoreChan,
		ProjectionChan:      projectionCoreChan,
	})

	errChan := make(chan error, 10)

	// --- Persistence + projection workers ---
	// Started before replay: replayed events re-emit through the persist
	// channel and the writer's ON CONFLICT clauses make the re-writes no-ops.
	persistWorker := persistence.NewPersistenceWorker(
		db, persistWorkerChan, cfg.Core.PersistBatchSize, cfg.Core.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewWorker(db, projectionWorkerChan)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	go bridgeCoreOutputs(ctx, metrics, persistCoreChan, projectionCoreChan,
		persistWorkerChan, projectionWorkerChan, publishChan)

	// --- Recovery: snapshot restore + event-log tail replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	writer := persistWorker.GetWriter()

	replayAfter := int64(-1)
	snap, ok, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load snapshot")
	}
	if ok {
		if err := ledgerCore.RestoreFromSnapshot(snap); err != nil {
			logger.Fatal().Err(err).Msg("restore snapshot")
		}
		replayAfter = snap.Sequence - 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot restored")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	replayed, err := replayEventLog(ctx, writer, ledgerCore, replayAfter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("event replay")
	}
	if replayed > 0 {
		logger.Info().Int64("events", replayed).Int64("sequence", ledgerCore.Sequence()).
			Msg("event-log tail replayed")
	}

	// Warm the LRU only after replay: warming first would classify every
	// tail row as a duplicate and silently drop its state. The snapshot's
	// own keys were already loaded during restore; this tops up with older
	// log history so recent redeliveries skip the cold DB path.
	keys, err := writer.LoadRecentIdempotencyKeys(ctx, cfg.Core.IdempotencyCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("idempotency warm-up failed")
	} else if len(keys) > 0 {
		ledgerCore.WarmIdempotency(keys)
		logger.Info().Int("keys", len(keys)).Msg("idempotency cache warmed")
	}

	if healthy, residual := ledgerCore.VerifyZeroSum(); !healthy {
		logger.Fatal().Int64("residual", residual).Msg("ledger not zero-sum after recovery")
	}

	// --- NATS ---
	subChan := make(chan ingestion.Submission, cfg.Core.SubmissionBuffer)

	var natsCleanup func()
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		natsCleanup = nc.Close

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure ingest stream")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}

		subscriber := ingestion.NewNATSSubscriber(
			js, ingestion.DefaultSubjects(), subChan, metrics, observability.NewLogger("nats"))
		go func() {
			errChan <- subscriber.Run(ctx)
		}()

		publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
		go func() {
			errChan <- publisher.Run(ctx)
		}()
		logger.Info().Str("url", cfg.NATS.URL).Msg("nats connected")
	}

	// --- Core loop: single writer draining submissions ---
	go runCoreLoop(ctx, subChan, ledgerCore, logger)

	// --- HTTP API ---
	converter, err := bridge.NewConverter(cfg.Bridge.ExternalDecimals)
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge converter")
	}

	apiServer := server.New(
		ledgerCore,
		subChan,
		query.NewQueryService(db),
		server.NewAuthenticator(cfg.Auth.JWTSecret),
		converter,
		metrics,
		observability.NewLogger("http"),
	)
	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: apiServer.Handler(),
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("http api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Metrics + health ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", health.LivenessHandler)
	metricsMux.HandleFunc("/readyz", health.ReadinessHandler)
	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsListen,
		Handler: metricsMux,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.MetricsListen).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// --- Periodic snapshots ---
	go runPeriodicSnapshots(ctx, ledgerCore, snapMgr, cfg.Core.SnapshotInterval, cfg.Core.SnapshotsKept, logger)

	health.SetReady(true)
	logger.Info().Int64("sequence", ledgerCore.Sequence()).Msg("gridledger ready")

	// --- Shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	health.SetReady(false)
	cancel()
	if natsCleanup != nil {
		natsCleanup()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	close(persistWorkerChan)
	close(projectionWorkerChan)
	close(publishChan)

	if err := takeSnapshot(shutdownCtx, ledgerCore, snapMgr, cfg.Core.SnapshotsKept); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Msg("final snapshot saved")
	}

	logger.Info().Msg("shutdown complete")
}

// runCoreLoop is the single-writer loop: every mutating event, whatever its
// origin, passes through here serially.
func runCoreLoop(ctx context.Context, subChan <-chan ingestion.Submission, c *core.Core, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-subChan:
			if !ok {
				return
			}

			err := c.ProcessEvent(sub.Event)
			if sub.Reply != nil {
				sub.Reply <- err
			}
			// NATS deliveries are always acked: core rejections are
			// deterministic, so redelivery would only repeat the rejection.
			if sub.Ack != nil {
				if ackErr := sub.Ack(); ackErr != nil {
					logger.Warn().Err(ackErr).Msg("ack failed")
				}
			}
			if err != nil {
				logger.Warn().Err(err).
					Str("event_type", sub.Event.EventType().String()).
					Str("key", sub.Event.IdempotencyKey()).
					Msg("event rejected")
			}
		}
	}
}

// bridgeCoreOutputs fans core outputs out to the persistence worker, the
// projection worker and the outbound publisher. The type conversion lives
// here to avoid import cycles between core and the downstream packages.
func bridgeCoreOutputs(
	ctx context.Context,
	metrics *observability.Metrics,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.Output,
	publishOut chan<- ingestion.PublishableEvent,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			env := output.Envelope
			pOut := persistence.CoreOutput{
				EventRow: persistence.EventRow{
					Sequence:       env.Sequence,
					EventType:      env.EventType.String(),
					IdempotencyKey: env.IdempotencyKey,
					SourceSequence: env.SourceSequence,
					Payload:        env.Payload,
					StateHash:      env.StateHash[:],
					PrevHash:       env.PrevHash[:],
					Timestamp:      env.Timestamp,
				},
			}
			for _, t := range output.Transfers {
				pOut.TransferRows = append(pOut.TransferRows, persistence.TransferRow{
					TransferID:    t.TransferID.String(),
					BatchID:       t.BatchID.String(),
					EventRef:      t.EventRef,
					Sequence:      t.Sequence,
					DebitAccount:  t.DebitAccount.AccountPath(),
					CreditAccount: t.CreditAccount.AccountPath(),
					Amount:        t.Amount,
					TransferType:  t.TransferType.String(),
					Timestamp:     t.Timestamp,
				})
			}
			persistOut <- pOut

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				Payload:        env.Payload,
				StateHash:      env.StateHash[:],
				Timestamp:      env.Timestamp,
			}:
			default:
				// Outbound publishing is best-effort; consumers can read
				// the event log directly.
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			pOut := projection.Output{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
			}
			for _, t := range output.Transfers {
				pOut.Transfers = append(pOut.Transfers, projection.TransferEntry{
					DebitAccount:  t.DebitAccount.AccountPath(),
					CreditAccount: t.CreditAccount.AccountPath(),
					Amount:        t.Amount,
				})
			}

			select {
			case projectionOut <- pOut:
			default:
				if metrics != nil {
					metrics.ProjectionDropped.Inc()
				}
			}
		}
	}
}

// replayEventLog feeds the event-log tail back through the core via
// ReplayEvent, which bypasses the dedup tiers: every tail row already sits
// in the event log, so the normal path would treat the whole tail as
// duplicates and drop it.
func replayEventLog(
	ctx context.Context,
	writer *persistence.EventLogWriter,
	c *core.Core,
	after int64,
	logger zerolog.Logger,
) (int64, error) {
	rows, err := writer.LoadEventsAfter(ctx, after)
	if err != nil {
		return 0, fmt.Errorf("load events after %d: %w", after, err)
	}

	var replayed int64
	for _, row := range rows {
		et, err := ingestion.EventTypeFromName(row.EventType)
		if err != nil {
			logger.Warn().Int64("sequence", row.Sequence).Str("type", row.EventType).
				Msg("skip unknown event type during replay")
			continue
		}

		evt, err := ingestion.ParseStored(et, row.Payload)
		if err != nil {
			return replayed, fmt.Errorf("decode event at seq %d: %w", row.Sequence, err)
		}

		if err := c.ReplayEvent(evt); err != nil {
			// Deterministic rejections repeat deterministically on replay.
			logger.Debug().Err(err).Int64("sequence", row.Sequence).Msg("replay skip")
		}
		replayed++
	}
	return replayed, nil
}

func runPeriodicSnapshots(
	ctx context.Context,
	c *core.Core,
	snapMgr *persistence.SnapshotManager,
	interval time.Duration,
	keep int,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	lastSeq := c.Sequence()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := c.Sequence()
			if seq == lastSeq {
				continue
			}
			if err := takeSnapshot(ctx, c, snapMgr, keep); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSeq = seq
			logger.Info().Int64("sequence", seq).Msg("periodic snapshot saved")
		}
	}
}

func takeSnapshot(ctx context.Context, c *core.Core, snapMgr *persistence.SnapshotManager, keep int) error {
	snap := c.CreateSnapshotState()
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	if keep > 0 {
		return snapMgr.PruneSnapshots(ctx, keep)
	}
	return nil
}
