package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/naad-alert-ingest/internal/adapter/capfetch"
	httpadapter "github.com/couchcryptid/naad-alert-ingest/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/naad-alert-ingest/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/naad-alert-ingest/internal/adapter/redis"
	"github.com/couchcryptid/naad-alert-ingest/internal/config"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
	"github.com/couchcryptid/naad-alert-ingest/internal/pipeline"
)

const sinkTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := pipeline.NewBus()

	// Optional sinks, enabled by KAFKA_BROKERS / REDIS_ADDR.
	var writer *kafkaadapter.Writer
	if len(cfg.KafkaBrokers) > 0 {
		writer = kafkaadapter.NewWriter(cfg, logger)
		bus.Subscribe(pipeline.SinkSubscriber(ctx, writer, sinkTimeout, logger, metrics))
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAlertTopic)
	}

	var closeRedis func() error
	if cfg.RedisAddr != "" {
		client, err := redisadapter.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("redis sink unavailable", "error", err)
			os.Exit(1)
		}
		closeRedis = client.Close
		publisher := redisadapter.NewPublisher(client, cfg.RedisEventChannel, logger)
		bus.Subscribe(pipeline.SinkSubscriber(ctx, publisher, sinkTimeout, logger, metrics))
		logger.Info("redis sink enabled", "addr", cfg.RedisAddr, "channel", cfg.RedisEventChannel)
	}

	fetcher := capfetch.NewClient(cfg.MirrorURLs, cfg.HTTPTimeout, logger)

	svc, err := pipeline.New(pipeline.Options{
		Enabled:             cfg.Enabled,
		FeedURLs:            cfg.FeedURLs,
		Filter:              cfg.Filter(),
		HeartbeatMarker:     cfg.HeartbeatMarker,
		ReconnectDelay:      cfg.ReconnectDelay,
		CacheCeiling:        cfg.CacheCeiling,
		MaxFrameBytes:       cfg.MaxFrameBytes,
		BackfillConcurrency: int64(cfg.BackfillConcurrency),
		Fetcher:             fetcher,
		Publisher:           bus,
		Logger:              logger,
		Metrics:             metrics,
	})
	if err != nil {
		logger.Error("failed to build ingest service", "error", err)
		os.Exit(1)
	}

	if streams, _, _ := pipeline.PartitionURLs(cfg.FeedURLs); cfg.Enabled && len(streams) > 0 && len(cfg.MirrorURLs) == 0 {
		logger.Warn("no backfill mirrors configured; alerts missed between heartbeats will not be recovered")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start stream ingest.
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		if err := svc.Run(ctx); err != nil {
			logger.Error("ingest error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-ingestDone:
	case <-shutdownCtx.Done():
		logger.Warn("ingest did not stop before shutdown timeout")
	}
	if err := bus.Close(shutdownCtx); err != nil {
		logger.Error("event bus close error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if closeRedis != nil {
		if err := closeRedis(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
