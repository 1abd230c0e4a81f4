package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/api/handler"
	"github.com/cuongbtq/saas-jobs/internal/api/router"
	"github.com/cuongbtq/saas-jobs/internal/config"
	"github.com/cuongbtq/saas-jobs/internal/dispatcher"
	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/cuongbtq/saas-jobs/internal/metrics"
	"github.com/cuongbtq/saas-jobs/internal/queue"
	"github.com/cuongbtq/saas-jobs/internal/signature"
	"github.com/cuongbtq/saas-jobs/internal/tasks"
	"github.com/cuongbtq/saas-jobs/internal/worker"
	"github.com/cuongbtq/saas-jobs/shared/logger"
	"github.com/cuongbtq/saas-jobs/shared/postgresql"
	"github.com/cuongbtq/saas-jobs/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("database_driver", cfg.Database.Driver),
	)

	registry := jobs.DefaultRegistry()
	if err := registry.Validate(); err != nil {
		return fmt.Errorf("invalid job registry: %w", err)
	}

	// Initialize execution store
	var (
		dbClient *postgresql.Client
		store    execution.Store
	)
	if cfg.Database.Driver == config.DriverMemory {
		appLogger.Warn("Using in-memory execution store, job history is lost on restart")
		store = execution.NewMemoryStore()
	} else {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		appLogger.Info("Database connection established")

		pgStore := execution.NewPostgresStore(dbClient.GetDB(), appLogger.Logger)
		if cfg.Database.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := pgStore.Migrate(ctx)
			cancel()
			if err != nil {
				return err
			}
			appLogger.Info("Database schema applied")
		}
		store = pgStore
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	appMetrics := metrics.New()

	jobDispatcher, err := dispatcher.New(dispatcher.Config{
		Registry:  registry,
		Store:     store,
		Publisher: queue.NewPublisher(rabbitClient, appLogger.Logger),
		Logger:    appLogger.Logger,
		Metrics:   appMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	verifier, err := signature.NewVerifier(cfg.Signing.CurrentKey, cfg.Signing.NextKey, cfg.Signing.Issuer, cfg.Signing.ClockSkew)
	if err != nil {
		return fmt.Errorf("failed to initialize signature verifier: %w", err)
	}

	jobWorker, err := worker.New(worker.Config{
		Store:         store,
		Verifier:      verifier,
		Logger:        appLogger.Logger,
		Metrics:       appMetrics,
		PublicBaseURL: cfg.Worker.PublicBaseURL,
		MaxBodyBytes:  cfg.Worker.MaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	taskDeps := tasks.Dependencies{Logger: appLogger.Logger}
	handlerDeps := &handler.Dependencies{
		Logger:     appLogger.Logger,
		Dispatcher: jobDispatcher,
		Store:      store,
		Registry:   registry,
		Broker:     rabbitClient,
	}
	if dbClient != nil {
		taskDeps.SessionPurger = tasks.NewSQLSessionPurger(dbClient.GetDB())
		handlerDeps.Database = dbClient
	}

	routerOpts := router.Options{
		Worker:   jobWorker,
		Bindings: tasks.Bindings(taskDeps),
	}
	if cfg.Metrics.Enabled {
		routerOpts.MetricsPath = cfg.Metrics.Path
		routerOpts.MetricsHandler = appMetrics.Handler()
	}

	// Initialize router
	r, err := initRouter(cfg.App.Environment, handlerDeps, routerOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	case amqpErr := <-rabbitClient.NotifyClose():
		// Publishing needs a live channel
		appLogger.Error("RabbitMQ channel closed, shutting down", slog.Any("error", amqpErr))
		runErr = fmt.Errorf("rabbitmq channel closed: %v", amqpErr)
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	if dbClient != nil {
		appLogger.Info("Database pool stats", slog.Attr{Key: "pool", Value: dbClient.PoolStats()})
	}

	appLogger.Info("Server shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
		Service:      router.ServiceName,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		ApplicationName: router.ServiceName,
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
		DelayQueueName:     cfg.DelayQueue,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PublisherConfirms:  cfg.Publish.Confirms,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies, opts router.Options) (*gin.Engine, error) {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, opts)
}
