// Package main provides the outbox relay service entry point. It drains the
// transactional outbox into schedule.events and dose.events.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/config"
	"github.com/dosetrack/go-mat/internal/infrastructure/postgres"
	"github.com/dosetrack/go-mat/internal/infrastructure/redpanda"
	"github.com/dosetrack/go-mat/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for the outbox relay")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	// Make sure the topics exist before relaying into them.
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("topic creation failed", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	m := metrics.New()

	outboxCfg := postgres.DefaultOutboxConfig()
	outbox := postgres.NewOutbox(pool, &producerAdapter{producer, m}, outboxCfg, logger)

	outbox.Start()
	logger.Info("outbox relay started")

	stopGauge := make(chan struct{})
	go pendingGaugeLoop(ctx, outbox, m, logger, stopGauge)

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	close(stopGauge)
	outbox.Stop()
	metricsServer.Close()
	logger.Info("outbox relay stopped")
}

// pendingGaugeLoop samples the outbox backlog for the pending-entries gauge.
func pendingGaugeLoop(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats, err := outbox.GetStats(ctx)
			if err != nil {
				logger.Warn("outbox stats failed", zap.Error(err))
				continue
			}
			m.OutboxPending.Set(float64(stats.Pending))
		}
	}
}

// producerAdapter adapts the Redpanda producer to the OutboxPublisher
// interface and counts published messages.
type producerAdapter struct {
	producer *redpanda.Producer
	metrics  *metrics.Metrics
}

func (a *producerAdapter) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := a.producer.ProduceMessage(ctx, topic, key, value); err != nil {
		return err
	}
	a.metrics.KafkaMessagesProduced.Inc()
	return nil
}
