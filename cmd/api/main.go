package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/arkline/identity-api/internal/auth"
	"github.com/arkline/identity-api/internal/config"
	"github.com/arkline/identity-api/internal/database"
	"github.com/arkline/identity-api/internal/email"
	httpServer "github.com/arkline/identity-api/internal/http"
	"github.com/arkline/identity-api/internal/identity"
	"github.com/arkline/identity-api/internal/logging"
	"github.com/arkline/identity-api/internal/queue"
	"github.com/arkline/identity-api/internal/user"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	// Initialize database connection
	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize Redis connection
	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	// Storage and cache
	userRepo := user.NewRepository(db)
	projectionCache := user.NewProjectionCache(redisClient)
	coordinator := user.NewCoordinator(userRepo, projectionCache)

	// Token service
	tokenService := auth.NewTokenService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenDuration,
		cfg.Auth.RefreshTokenDuration,
	)

	// Notification queue and email delivery
	notificationQueue := queue.NewQueue(redisClient, cfg.Queue.NotificationQueue)
	emailService := email.NewService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FrontendURL,
	)

	worker := queue.NewWorker(notificationQueue, logger, cfg.Queue.MaxAttempts)
	worker.Handle(identity.JobVerificationEmail, func(ctx context.Context, payload json.RawMessage) error {
		var job identity.VerificationEmailJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode verification job: %w", err)
		}
		return emailService.SendVerificationEmail(ctx, job.Email, job.FullName, job.Token.String())
	})
	worker.Handle(identity.JobWelcomeEmail, func(ctx context.Context, payload json.RawMessage) error {
		var job identity.WelcomeEmailJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode welcome job: %w", err)
		}
		return emailService.SendWelcomeEmail(ctx, job.Email, job.FullName)
	})

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx)

	// Identity service and HTTP surface
	identityService := identity.NewService(
		userRepo,
		projectionCache,
		coordinator,
		tokenService,
		notificationQueue,
		cfg.Auth.RefreshTokenDuration,
	)
	identityHandler := identity.NewHandler(identityService, cfg.Crypto.EncryptionKey)
	authMiddleware := auth.NewMiddleware(projectionCache, tokenService)

	// Initialize router
	router := httpServer.NewRouter(cfg, identityHandler, authMiddleware, logger)

	// Initialize HTTP server
	serverAddr := ":" + cfg.Server.Port
	server := httpServer.NewServer(
		serverAddr,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())

		stopWorker()

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initDB initializes the database connection and returns a Bun DB instance
func initDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return database.NewBunDB(sqlDB), nil
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
