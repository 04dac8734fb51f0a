package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/signalworks/signal-engine/internal/api"
	"github.com/signalworks/signal-engine/internal/backtest"
	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/database"
	"github.com/signalworks/signal-engine/internal/feedback"
	"github.com/signalworks/signal-engine/internal/kafka"
	"github.com/signalworks/signal-engine/internal/marketdata"
	"github.com/signalworks/signal-engine/internal/outcome"
	"github.com/signalworks/signal-engine/internal/pipeline"
	"github.com/signalworks/signal-engine/internal/redis"
	"github.com/signalworks/signal-engine/internal/risk"
	"github.com/signalworks/signal-engine/internal/scheduler"
	"github.com/signalworks/signal-engine/internal/selector"
	"github.com/signalworks/signal-engine/internal/signalgen"
	_ "github.com/signalworks/signal-engine/internal/strategy"
	"github.com/signalworks/signal-engine/internal/telemetry"
	"github.com/signalworks/signal-engine/internal/tracker"
)

// feedbackCheckInterval is how often the circuit breaker and degradation
// rules are re-evaluated, independent of the outcome cycle.
const feedbackCheckInterval = 5 * time.Minute

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := runMigrations(cfg.Database.ConnectionString()); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	defer db.Close()
	log.Println("Connected to PostgreSQL database")

	// Connect to Redis
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v (continuing without cache)", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Connected to Redis cache")
	}

	// Create Kafka producer
	producer := kafka.NewProducer(cfg.Kafka.Brokers,
		cfg.Kafka.SignalsTopic, cfg.Kafka.OutcomesTopic, cfg.Kafka.HealthTopic)
	defer producer.Close()
	log.Printf("Kafka producer initialized (brokers: %v)", cfg.Kafka.Brokers)

	metrics := telemetry.NewMetrics("")

	// Price feed client with Redis fallback
	var priceCache marketdata.PriceCache
	if redisClient != nil {
		priceCache = redisClient
	}
	prices := marketdata.New(cfg.MarketData, priceCache, metrics)

	// Engine services
	sel := selector.New(db, cfg.Trading)
	generator := signalgen.New(db, producer, sel, metrics, cfg.Trading)
	perfTracker := tracker.New(db)

	// The feedback controller reads drawdown from a breaker-less risk
	// manager; the pipeline's risk manager consults the breaker.
	drawdownSource := risk.New(db, nil, metrics, cfg.Trading)
	feedbackCtrl := feedback.New(db, drawdownSource, producer, metrics, cfg.Trading.CooldownDuration)
	riskMgr := risk.New(db, feedbackCtrl, metrics, cfg.Trading)

	runner := backtest.NewRunner()
	validator := backtest.NewWalkForwardValidator(runner)
	pipe := pipeline.New(db, sel, generator, riskMgr, runner, validator, metrics, cfg.Trading)
	detector := outcome.New(db, prices, producer, perfTracker, metrics, cfg.Trading.Symbol)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create and start Kafka consumer for candle events
	candlesConsumer := kafka.NewCandlesConsumer(
		cfg.Kafka.Brokers,
		cfg.Kafka.CandlesTopic,
		cfg.Kafka.ConsumerGroup,
		db,
		metrics,
	)
	go func() {
		log.Printf("Starting Kafka candles consumer for topic: %s (group: %s)",
			cfg.Kafka.CandlesTopic, cfg.Kafka.ConsumerGroup)
		if err := candlesConsumer.Start(ctx); err != nil {
			log.Printf("Kafka candles consumer error: %v", err)
		}
	}()

	// Periodic cycles
	sched := scheduler.New()
	sched.Every(ctx, "signal cycle", cfg.Trading.SignalInterval, func(ctx context.Context) error {
		_, err := pipe.RunSignalCycle(ctx)
		return err
	})
	sched.Every(ctx, "outcome cycle", cfg.Trading.OutcomeInterval, func(ctx context.Context) error {
		_, err := detector.RunCycle(ctx)
		return err
	})
	sched.Every(ctx, "feedback checks", feedbackCheckInterval, feedbackCtrl.RunChecks)
	sched.Every(ctx, "backtest batch", cfg.Trading.BacktestInterval, func(ctx context.Context) error {
		_, err := pipe.RunBacktestCycle(ctx)
		return err
	})

	// Set up HTTP handler and routes
	handler := api.NewHandler(db, producer, redisClient, sel)
	router := api.SetupRoutes(handler)

	// Create HTTP server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Cancel context to stop the consumer and all cycles
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := candlesConsumer.Close(); err != nil {
		log.Printf("Error closing Kafka candles consumer: %v", err)
	}
	sched.Wait()

	log.Println("Server stopped")
}

func runMigrations(databaseUrl string) error {
	// The "file://" prefix selects the migrate file source driver
	m, err := migrate.New("file://./db/migrations", databaseUrl)
	if err != nil {
		return err
	}

	// Apply all available migrations up to the latest version
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}
