// Package main provides the reminder sync worker. It consumes reminder
// delivery acknowledgments from the external dispatcher and flags the matching
// dose entries so users are not reminded twice.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/config"
	"github.com/dosetrack/go-mat/internal/domain/schedule"
	"github.com/dosetrack/go-mat/internal/infrastructure/postgres"
	"github.com/dosetrack/go-mat/internal/infrastructure/redpanda"
	"github.com/dosetrack/go-mat/internal/observability/metrics"
	"github.com/dosetrack/go-mat/pkg/idempotency"
	"github.com/dosetrack/go-mat/pkg/workerpool"
)

// ReminderAck is the payload published by the reminder dispatcher after a
// notification is delivered.
type ReminderAck struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	SentAt     time.Time `json:"sent_at"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for reminder sync")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	m := metrics.New()

	svc := schedule.NewService(
		postgres.NewScheduleRepo(pool, logger),
		postgres.NewMedicineStore(pool),
		schedule.Config{},
		logger,
	)

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("stale entry recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}

	syncer := &ackSyncer{svc: svc, inbox: inbox, logger: logger}

	poolCfg := workerpool.DefaultConfig()
	wp, err := workerpool.New(poolCfg, syncer.processTask, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	wp.Start()

	go func() {
		// Drain results so the channel never blocks workers.
		for range wp.Results() {
		}
	}()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.ConsumerGroup
	consumerCfg.Topics = []string{redpanda.TopicReminderAcks}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		m.KafkaMessagesConsumed.Inc()
		return wp.Submit(&workerpool.Task{
			ID:      fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset),
			Payload: msg.Value,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("reminder sync started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group", cfg.ConsumerGroup))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	wp.Stop()
	inbox.Stop()
	logger.Info("reminder sync stopped")
}

// ackSyncer applies reminder acknowledgments idempotently. Redeliveries and
// duplicate acks for the same dose collapse in the inbox.
type ackSyncer struct {
	svc    *schedule.Service
	inbox  *idempotency.Inbox
	logger *zap.Logger
}

func (s *ackSyncer) processTask(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	raw, ok := task.Payload.([]byte)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload type")}
	}

	var ack ReminderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		// Malformed acks are dropped, not retried.
		s.logger.Warn("malformed reminder ack", zap.String("task_id", task.ID), zap.Error(err))
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}

	date, err := time.Parse("2006-01-02", ack.Date)
	if err != nil {
		s.logger.Warn("reminder ack with bad date",
			zap.String("task_id", task.ID),
			zap.String("date", ack.Date))
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}

	key := idempotency.GenerateAckKey(ack.ScheduleID.String(), date, ack.Time)
	_, err = s.inbox.Process(ctx, key, "reminder-ack", raw, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		if err := s.svc.SetReminderSent(ctx, ack.ScheduleID, date, ack.Time); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"applied":true}`), nil
	})
	if err != nil {
		if err == idempotency.ErrDuplicateMessage || err == idempotency.ErrMessageInProgress {
			return &workerpool.Result{TaskID: task.ID, Success: true}
		}
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	return &workerpool.Result{TaskID: task.ID, Success: true}
}
