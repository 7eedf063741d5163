package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"stablevault/internal/core"
	"stablevault/internal/event"
	"stablevault/internal/ingestion"
	"stablevault/internal/observability"
	"stablevault/internal/persistence"
	"stablevault/internal/protocol"
	"stablevault/internal/query"
	"stablevault/internal/server"
)

// Config is loaded from environment variables.
type Config struct {
	PostgresDSN     string
	NATSURL         string
	HTTPAddr        string
	MetricsAddr     string
	MigrationsDir   string
	Owner           string
	PersistChanSize int
	PublishChanSize int
	RawChanSize     int
	PersistBatch    int
	PersistFlush    time.Duration
	SnapshotEvery   time.Duration
}

func loadConfig() Config {
	return Config{
		PostgresDSN:     envOrDefault("VAULT_POSTGRES_DSN", "postgres://localhost:5432/stablevault?sslmode=disable"),
		NATSURL:         envOrDefault("VAULT_NATS_URL", "nats://localhost:4222"),
		HTTPAddr:        envOrDefault("VAULT_HTTP_ADDR", ":8080"),
		MetricsAddr:     envOrDefault("VAULT_METRICS_ADDR", ":9091"),
		MigrationsDir:   envOrDefault("VAULT_MIGRATIONS_DIR", "migrations"),
		Owner:           envOrDefault("VAULT_OWNER", "SP2C2YFP12AJZB4MABJBAJ55XECVS7E4PMMZ89YZR"),
		PersistChanSize: envIntOrDefault("VAULT_PERSIST_CHAN_SIZE", 1024),
		PublishChanSize: envIntOrDefault("VAULT_PUBLISH_CHAN_SIZE", 4096),
		RawChanSize:     envIntOrDefault("VAULT_RAW_CHAN_SIZE", 1024),
		PersistBatch:    envIntOrDefault("VAULT_PERSIST_BATCH_SIZE", 50),
		PersistFlush:    time.Duration(envIntOrDefault("VAULT_PERSIST_FLUSH_MS", 10)) * time.Millisecond,
		SnapshotEvery:   time.Duration(envIntOrDefault("VAULT_SNAPSHOT_INTERVAL_S", 60)) * time.Second,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := observability.NewLogger("main")
	cfg := loadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres.
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		logger.Fatal().Err(err).Msg("ping postgres")
	}
	pingCancel()

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// Recovery: latest snapshot decides the starting sequence. Without one,
	// resume numbering after the last logged event so the log stays gap-free.
	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load snapshot")
	}

	startSequence := uint64(1)
	if snap != nil {
		startSequence = snap.Sequence
		logger.Info().Uint64("sequence", startSequence).Msg("restoring from snapshot")
	} else {
		last, err := snapMgr.GetLatestSequence(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("read last sequence")
		}
		if last > 0 {
			startSequence = last + 1
			logger.Warn().Uint64("last_sequence", last).
				Msg("event log present but no snapshot; resuming sequence without state")
		}
	}

	// Channels between the core and its workers.
	persistChan := make(chan core.Output, cfg.PersistChanSize)
	publishChan := make(chan core.Output, cfg.PublishChanSize)
	rowChan := make(chan persistence.EventRow, cfg.PersistChanSize)
	envChan := make(chan *event.Envelope, cfg.PublishChanSize)
	rawChan := make(chan ingestion.RawMessage, cfg.RawChanSize)

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// Ticks are wall-clock seconds, so MaxPriceAge is one hour.
	clock := protocol.TickFunc(func() uint64 { return uint64(time.Now().Unix()) })

	c := core.NewCore(
		protocol.Principal(cfg.Owner),
		clock,
		startSequence,
		persistChan, publishChan,
		metrics,
		observability.NewLogger("core"),
	)
	if snap != nil {
		c.RestoreFromSnapshot(snap.ToState())
	}

	// NATS.
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect NATS")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	subscriber := ingestion.NewNATSSubscriber(js, rawChan, observability.NewLogger("subscriber"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("subscribe")
	}

	worker := persistence.NewWorker(db, rowChan, cfg.PersistBatch, cfg.PersistFlush,
		metrics, observability.NewLogger("persistence"))
	publisher := ingestion.NewOutboundPublisher(js, envChan, observability.NewLogger("publisher"))

	errChan := make(chan error, 4)

	// Bridge the core's output channels to the workers.
	go func() {
		for out := range persistChan {
			rowChan <- persistence.RowFromEnvelope(out.Envelope)
		}
		close(rowChan)
	}()
	go func() {
		for out := range publishChan {
			envChan <- out.Envelope
		}
		close(envChan)
	}()

	go func() {
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()
	go func() {
		if err := publisher.Run(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()

	// Price ingestion: parse, apply, ack. Rejects are acked too; redelivery
	// cannot make a bad update valid.
	go func() {
		priceLog := observability.NewLogger("prices")
		for raw := range rawChan {
			pu, err := ingestion.ParsePriceUpdate(raw.Data)
			if err != nil {
				priceLog.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable price update")
				raw.Ack()
				continue
			}
			if err := c.UpdatePrice(pu.Operator, pu.Asset, pu.Price, pu.Confidence); err != nil {
				priceLog.Warn().Err(err).Str("asset", string(pu.Asset)).Msg("price update rejected")
			}
			raw.Ack()
		}
	}()

	// HTTP surfaces.
	queries := query.NewService(c, db)
	srv := server.NewServer(c, queries, health, metrics, observability.NewLogger("http"))
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go runPeriodicSnapshots(ctx, c, snapMgr, cfg.SnapshotEvery, logger)

	health.SetReady(true)
	logger.Info().Uint64("sequence", c.Sequence()).Msg("stablevault ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		logger.Error().Err(err).Msg("fatal component error")
	}

	health.SetReady(false)
	shutdown(c, snapMgr, subscriber, httpServer, metricsServer, persistChan, publishChan, rawChan, logger)
}

func runPeriodicSnapshots(ctx context.Context, c *core.Core, sm *persistence.SnapshotManager, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSequence uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := c.Sequence()
			if seq == lastSequence {
				continue
			}
			snap := persistence.FromState(c.CreateSnapshotState())
			if err := sm.SaveSnapshot(context.Background(), snap); err != nil {
				log.Error().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSequence = seq
			log.Info().Uint64("sequence", seq).Msg("snapshot saved")
		}
	}
}

func shutdown(
	c *core.Core,
	sm *persistence.SnapshotManager,
	subscriber *ingestion.NATSSubscriber,
	httpServer, metricsServer *http.Server,
	persistChan, publishChan chan core.Output,
	rawChan chan ingestion.RawMessage,
	log zerolog.Logger,
) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	subscriber.Stop()
	close(rawChan)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}

	// No new operations can arrive once the servers are down; closing the
	// output channels lets the bridges and workers drain and exit.
	close(persistChan)
	close(publishChan)
	time.Sleep(500 * time.Millisecond)

	snap := persistence.FromState(c.CreateSnapshotState())
	if err := sm.SaveSnapshot(shutdownCtx, snap); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Uint64("sequence", snap.Sequence).Msg("final snapshot saved")
	}

	log.Info().Msg("shutdown complete")
}
