package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/autograder"
	"github.com/cuongbtq/grading-coordinator/internal/config"
	"github.com/cuongbtq/grading-coordinator/internal/jobrunner"
	"github.com/cuongbtq/grading-coordinator/internal/queue"
	"github.com/cuongbtq/grading-coordinator/internal/storage"
	"github.com/cuongbtq/grading-coordinator/internal/worker"
	"github.com/cuongbtq/grading-coordinator/shared/logger"
	"github.com/cuongbtq/grading-coordinator/shared/postgresql"
	"github.com/cuongbtq/grading-coordinator/shared/rabbitmq"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	runner := initRunner(cfg, store, appLogger.Logger)

	if cfg.Queue.Backend == config.QueueBackendAsynq {
		return runAsynq(cfg, runner, appLogger.Logger)
	}
	return runRabbitMQ(cfg, runner, appLogger.Logger)
}

// initRunner wires the autograder and registers the job functions
func initRunner(cfg *config.Config, store *storage.Storage, logger *slog.Logger) *jobrunner.Runner {
	client := autograder.NewClient(cfg.Autograder.BaseURL, cfg.Autograder.RequestTimeout, logger)
	creds := autograder.NewCredentials(store, cfg.Autograder.TokenSecret, cfg.Autograder.TokenExpiry)
	poller := autograder.NewPoller(autograder.NewDispatcher(client, creds, logger), client, store, autograder.PollerConfig{
		MaxRetries:   cfg.Autograder.MaxRetries,
		JobTimeout:   cfg.Autograder.JobTimeout,
		ScoreTimeout: cfg.Autograder.ScoreTimeout,
		PollInterval: cfg.Autograder.PollInterval,
	})

	registry := jobrunner.NewRegistry()
	autograder.NewJobs(store, poller).Register(registry)

	logger.Info("Registered job functions", slog.Any("functions", registry.Names()))

	// the worker never enqueues, so it runs without a publisher
	return jobrunner.NewRunner(store, nil, registry, jobrunner.Options{
		DefaultTimeout: cfg.Worker.JobTimeout,
	}, logger)
}

func runRabbitMQ(cfg *config.Config, runner *jobrunner.Runner, logger *slog.Logger) error {
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	hostname, _ := os.Hostname()
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        logger,
		Source:        rabbitClient,
		Handler:       runner.Execute,
		WorkerID:      fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start returns once in-flight jobs are done
	done := make(chan error, 1)
	go func() {
		done <- workerInstance.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-done:
		logger.Error("Worker error", slog.Any("error", err))
		return err
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		logger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	logger.Info("Worker service shutdown complete")
	return nil
}

func runAsynq(cfg *config.Config, runner *jobrunner.Runner, logger *slog.Logger) error {
	server := queue.NewAsynqServer(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, queue.AsynqServerConfig{
		Queue:       cfg.Queue.AsynqName,
		Concurrency: cfg.Worker.Concurrency,
	}, runner.Execute, logger)

	if err := server.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)
	server.Shutdown()

	logger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
