// Package main provides the schedule API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/api/handlers"
	"github.com/dosetrack/go-mat/internal/api/middleware"
	"github.com/dosetrack/go-mat/internal/clients/users"
	"github.com/dosetrack/go-mat/internal/config"
	"github.com/dosetrack/go-mat/internal/domain/adherence"
	"github.com/dosetrack/go-mat/internal/domain/medicine"
	"github.com/dosetrack/go-mat/internal/domain/schedule"
	"github.com/dosetrack/go-mat/internal/infrastructure/memory"
	"github.com/dosetrack/go-mat/internal/infrastructure/postgres"
	"github.com/dosetrack/go-mat/internal/observability/metrics"
	"github.com/dosetrack/go-mat/internal/observability/tracing"
	"github.com/dosetrack/go-mat/pkg/circuitbreaker"
	"github.com/dosetrack/go-mat/pkg/idempotency"
)

// breakerStateGauge maps breaker states onto the circuit_breaker_state gauge
// encoding, 0 closed, 1 open, 2 half-open.
func breakerStateGauge(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "schedule-api",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	m := metrics.New()

	// Storage: Postgres when configured, in-memory in dev otherwise. The
	// automated creation path is inbox-guarded only when postgres backs it.
	var (
		scheduleRepo schedule.Repository
		medStore     medicine.Store
		pool         *pgxpool.Pool
		guard        handlers.IdempotencyGuard
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		scheduleRepo = postgres.NewScheduleRepo(pool, logger)
		medStore = postgres.NewMedicineStore(pool)

		inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
		inbox.StartCleanup()
		defer inbox.Stop()
		guard = inbox
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		mem := memory.NewMedicineStore()
		scheduleRepo = memory.NewScheduleRepo(mem)
		medStore = mem
	}

	var directory schedule.UserDirectory
	if cfg.UsersServiceURL != "" {
		client, err := users.New(cfg.UsersServiceURL, logger,
			func(name string, _, to circuitbreaker.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(breakerStateGauge(to))
			})
		if err != nil {
			logger.Fatal("user directory client failed", zap.Error(err))
		}
		m.CircuitBreakerState.WithLabelValues("user-directory").Set(breakerStateGauge(client.Breaker().GetState()))
		directory = client
	}

	svc := schedule.NewService(scheduleRepo, medStore, schedule.Config{
		Policy: missedDosePolicy(cfg.MissedDosePolicy),
		Users:  directory,
	}, logger)
	reporter := adherence.NewReporter(scheduleRepo, logger)

	scheduleHandler := handlers.NewScheduleHandler(svc, guard, m, logger)
	reportHandler := handlers.NewReportHandler(reporter, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("schedule-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(middleware.APIKeyAuth(map[string]string{cfg.APIKey: cfg.APIClientID}))
		}
		r.Mount("/schedules", scheduleHandler.Routes())
		r.Mount("/reports", reportHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting schedule API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var logger *zap.Logger
	if cfg.IsDev() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func missedDosePolicy(s string) schedule.MissedDosePolicy {
	if s == "allow-late-taken" {
		return schedule.MissedDoseAllowLateTaken
	}
	return schedule.MissedDoseTerminal
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"schedule-api","version":"0.1.0"}`)
}
