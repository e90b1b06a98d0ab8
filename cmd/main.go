package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/andressep95/geo-verification/internal/config"
	"github.com/andressep95/geo-verification/internal/handler"
	"github.com/andressep95/geo-verification/internal/handler/middleware"
	"github.com/andressep95/geo-verification/internal/repository"
	"github.com/andressep95/geo-verification/internal/repository/memory"
	"github.com/andressep95/geo-verification/internal/repository/postgres"
	redisrepo "github.com/andressep95/geo-verification/internal/repository/redis"
	"github.com/andressep95/geo-verification/internal/service"
	"github.com/andressep95/geo-verification/pkg/geoguessr"
	"github.com/andressep95/geo-verification/pkg/jwt"
	"github.com/andressep95/geo-verification/pkg/validator"
	"github.com/andressep95/geo-verification/pkg/webhook"
)

type stores struct {
	sessions   repository.SessionRepository
	rateLimits repository.RateLimitRepository
	friends    repository.FriendCache
	close      func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize storage backend
	st, err := initStores(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s storage: %v", cfg.Storage.Backend, err)
	}
	defer st.close()
	log.Printf("✓ Storage backend ready (%s)", cfg.Storage.Backend)

	// Initialize GeoGuessr client
	platform, err := geoguessr.NewClient(geoguessr.Config{
		BaseURL:           cfg.Platform.BaseURL,
		NcfaToken:         cfg.Platform.NcfaToken,
		Timeout:           cfg.Platform.CallTimeout,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
	})
	if err != nil {
		log.Fatalf("Failed to initialize GeoGuessr client: %v", err)
	}
	log.Println("✓ GeoGuessr client initialized")

	// Initialize webhook dispatcher
	dispatcher := webhook.NewDispatcher(webhook.Config{
		Secret:  cfg.Webhook.Secret,
		Timeout: cfg.Webhook.Timeout,
	})
	if cfg.Webhook.Secret == "" {
		log.Println("ℹ Webhook signing disabled (set WEBHOOK_SECRET to enable)")
	}

	// Initialize services
	limiter := service.NewRateLimiter(st.rateLimits, cfg.Verification.RateLimitPerWindow, cfg.Verification.RateLimitWindow, nil)
	reconciler := service.NewReconciler(st.sessions, st.friends, platform, dispatcher, cfg, nil)
	verificationService := service.NewVerificationService(st.sessions, st.friends, limiter, platform, dispatcher, reconciler, cfg, nil)

	// Initialize handlers
	validate := validator.NewValidator()
	verificationHandler := handler.NewVerificationHandler(verificationService, validate)
	healthHandler := handler.NewHealthHandler(verificationService, reconciler)

	// Optional client authentication
	var apiMiddleware []fiber.Handler
	if cfg.Auth.JWTSecret != "" {
		tokenService, err := jwt.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			log.Fatalf("Failed to initialize token service: %v", err)
		}
		apiMiddleware = append(apiMiddleware, middleware.ClientAuthMiddleware(tokenService))
		log.Println("✓ API client authentication enabled")
	} else {
		log.Println("ℹ API client authentication disabled (set API_JWT_SECRET to enable)")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:               "GeoGuessr Verification v1.0",
		DisableStartupMessage: cfg.Server.IsProduction(),
		ErrorHandler:          handler.ErrorHandler,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Setup global middlewares
	app.Use(middleware.RecoveryMiddleware())
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.CORSMiddleware(cfg.Server.AllowOrigins))

	// Setup routes
	handler.SetupRoutes(app, verificationHandler, healthHandler, apiMiddleware...)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Start reconciliation loop
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		reconciler.Run(ctx)
	}()

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("🚀 Server starting on http://localhost%s", addr)
		log.Printf("📝 Environment: %s", cfg.Server.Environment)
		log.Printf("⚙ Codes expire after %v, %d starts per %v per user, reconcile every %v",
			cfg.Verification.CodeExpiry,
			cfg.Verification.RateLimitPerWindow,
			cfg.Verification.RateLimitWindow,
			cfg.Verification.ReconcileInterval,
		)
		if err := app.Listen(addr); err != nil {
			log.Printf("❌ Server failed to start: %v", err)
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Println("⏳ Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	select {
	case <-reconcilerDone:
	case <-shutdownCtx.Done():
		log.Println("❌ Reconciler did not stop in time")
	}

	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Printf("❌ Pending webhooks abandoned: %v", err)
	}

	log.Println("✓ Server stopped")
}

// initStores builds the repositories for the configured backend
func initStores(cfg *config.Config) (*stores, error) {
	codeLength := cfg.Verification.CodeLength

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		client, err := initRedis(cfg)
		if err != nil {
			return nil, err
		}
		return &stores{
			sessions:   redisrepo.NewSessionRepository(client, codeLength, cfg.Storage.Retention, nil),
			rateLimits: redisrepo.NewRateLimitRepository(client, cfg.Verification.RateLimitWindow+time.Hour),
			friends:    redisrepo.NewFriendCache(client, cfg.Storage.FriendCacheTTL),
			close: func() {
				if err := client.Close(); err != nil {
					log.Printf("Error closing Redis connection: %v", err)
				}
			},
		}, nil

	case config.BackendPostgres:
		db, err := initDB(cfg)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return &stores{
			sessions:   postgres.NewSessionRepository(db, codeLength, nil),
			rateLimits: postgres.NewRateLimitRepository(db),
			friends:    memory.NewFriendCache(),
			close: func() {
				if err := db.Close(); err != nil {
					log.Printf("Error closing database connection: %v", err)
				}
			},
		}, nil

	default:
		log.Println("ℹ Using in-memory storage, sessions are lost on restart")
		return &stores{
			sessions:   memory.NewSessionRepository(codeLength, nil),
			rateLimits: memory.NewRateLimitRepository(),
			friends:    memory.NewFriendCache(),
			close:      func() {},
		}, nil
	}
}

// initDB initializes PostgreSQL database connection with retry logic
func initDB(cfg *config.Config) (*sqlx.DB, error) {
	dsn := cfg.Database.DSN()

	var db *sqlx.DB
	var err error

	maxRetries := 5
	retryInterval := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			break
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryInterval)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Error closing database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initRedis initializes Redis client and verifies connection
func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			log.Printf("Error closing Redis after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
