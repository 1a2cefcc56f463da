package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-poll-sync/internal/api"
	"github.com/ramiqadoumi/go-poll-sync/internal/kafka"
	"github.com/ramiqadoumi/go-poll-sync/internal/notify"
	"github.com/ramiqadoumi/go-poll-sync/internal/poller"
	"github.com/ramiqadoumi/go-poll-sync/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-poll-sync/internal/redis"
	"github.com/ramiqadoumi/go-poll-sync/pkg/telemetry"
	"github.com/ramiqadoumi/go-poll-sync/services/watcher"
	"github.com/ramiqadoumi/go-poll-sync/services/watcher/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the watcher",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("service-url", "http://localhost:8080", "base URL of the remote queue service")
	serveCmd.Flags().Duration("active-interval", poller.DefaultActiveInterval, "snapshot poll interval while work is pending or running")
	serveCmd.Flags().Duration("idle-interval", poller.DefaultIdleInterval, "snapshot poll interval while the queue is quiet")
	serveCmd.Flags().Duration("log-interval", poller.DefaultLogInterval, "log tail poll interval")
	serveCmd.Flags().Int("log-batch-limit", poller.DefaultLogBatchLimit, "max log lines per fetch")
	serveCmd.Flags().String("redis-addr", "", "Redis address for cursor persistence (empty disables)")
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN for the transition audit history (empty disables)")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses for the transition bridge (empty disables)")
	serveCmd.Flags().String("kafka-topic", "pollsync.transitions", "Kafka topic for transition events")
	serveCmd.Flags().Duration("history-retention", 7*24*time.Hour, "how long transition history rows are kept")
	serveCmd.Flags().String("prune-schedule", "0 3 * * *", "cron expression for the history prune job")
	serveCmd.Flags().String("mirror-addr", ":8090", "HTTP address for the queue mirror API")
	serveCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("service_url", serveCmd.Flags(), "service-url")
	bindFlag("active_interval", serveCmd.Flags(), "active-interval")
	bindFlag("idle_interval", serveCmd.Flags(), "idle-interval")
	bindFlag("log_interval", serveCmd.Flags(), "log-interval")
	bindFlag("log_batch_limit", serveCmd.Flags(), "log-batch-limit")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("postgres_dsn", serveCmd.Flags(), "postgres-dsn")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("kafka_topic", serveCmd.Flags(), "kafka-topic")
	bindFlag("history_retention", serveCmd.Flags(), "history-retention")
	bindFlag("prune_schedule", serveCmd.Flags(), "prune-schedule")
	bindFlag("mirror_addr", serveCmd.Flags(), "mirror-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	watcherID := "watcher-" + uuid.New().String()[:8]

	logger := buildLogger(cfg.LogLevel, "watcher").With(slog.String("watcher_id", watcherID))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "pollsync-watcher", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	client := api.NewClient(cfg.ServiceURL)
	coordinator := notify.NewCoordinator(notify.LogNotifier{Logger: logger}, notify.DefaultWindow)

	opts := []watcher.Option{
		watcher.WithLogger(logger),
		watcher.WithLogConfig(poller.LogConfig{
			Interval:   cfg.LogInterval,
			BatchLimit: cfg.LogBatchLimit,
			Notify:     coordinator,
			Logger:     logger,
		}),
	}

	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		opts = append(opts, watcher.WithCursorStore(redisstore.NewCursorStore(redisClient)))
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	var historyRepo postgres.TransitionHistory
	if cfg.PostgresDSN != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		historyRepo = postgres.NewHistory(pool)
		opts = append(opts, watcher.WithHistory(historyRepo))
	}

	if cfg.KafkaBrokers != "" {
		publisher := kafka.NewPublisher(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		defer func() { _ = publisher.Close() }()
		opts = append(opts, watcher.WithPublisher(publisher))
	}

	snapshots := poller.NewSnapshotPoller(client, poller.SnapshotConfig{
		ActiveInterval: cfg.ActiveInterval,
		IdleInterval:   cfg.IdleInterval,
		Notify:         coordinator,
		Logger:         logger,
	})

	w := watcher.New(snapshots, client, watcherID, opts...)

	// ── history prune ─────────────────────────────────────────────────────────
	var pruner *cron.Cron
	if historyRepo != nil {
		pruner = cron.New()
		_, err := pruner.AddFunc(cfg.PruneSchedule, func() {
			ctx, cancel := context.WithTimeout(runCtx, time.Minute)
			defer cancel()
			deleted, err := historyRepo.Prune(ctx, cfg.HistoryRetention)
			if err != nil {
				logger.Error("prune transition history", slog.String("error", err.Error()))
				return
			}
			logger.Info("pruned transition history", slog.Int64("deleted", deleted))
		})
		if err != nil {
			return fmt.Errorf("prune schedule %q: %w", cfg.PruneSchedule, err)
		}
		pruner.Start()
		defer pruner.Stop()
	}

	// ── mirror API ────────────────────────────────────────────────────────────
	mirror := watcher.NewMirror(w.Store(), logger)
	mirrorSrv := &http.Server{
		Addr:         cfg.MirrorAddr,
		Handler:      mirror.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("mirror API starting", slog.String("addr", mirrorSrv.Addr))
		if err := mirrorSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mirror server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// ── Prometheus metrics ────────────────────────────────────────────────────
	// Ready once the first snapshot landed, mirroring the mirror API's readyz.
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger,
		func() bool { return w.Store().Snapshot() != nil })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down, stopping pollers...")
		runCancel()
	}()

	logger.Info("watcher starting",
		slog.String("service_url", cfg.ServiceURL),
		slog.Duration("active_interval", cfg.ActiveInterval),
		slog.Duration("idle_interval", cfg.IdleInterval),
	)

	if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watcher: %w", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := mirrorSrv.Shutdown(shutCtx); err != nil {
		logger.Error("mirror shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped cleanly")
	return nil
}
