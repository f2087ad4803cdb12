// ==============================================================================
// MODERATION SERVICE MAIN - cmd/moderation/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"marketmod/internal/audit"
	"marketmod/internal/handler"
	"marketmod/internal/lock"
	"marketmod/internal/middleware"
	"marketmod/internal/moderation"
	"marketmod/internal/notification"
	"marketmod/internal/queue"
	"marketmod/internal/repository/postgres"
	"marketmod/internal/verification"
	"marketmod/pkg/cache"
	"marketmod/pkg/config"
	"marketmod/pkg/logger"
	"marketmod/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New("moderation-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Moderation Service", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	// Database connection
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Delivery queue producer
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize repositories
	listingRepo := postgres.NewListingRepository(db)
	userRepo := postgres.NewUserRepository(db)
	documentRepo := postgres.NewDocumentRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Initialize services
	notificationService := notification.NewService(notificationRepo,
		queue.NewClient(asynqClient, cfg.Queue.DeliveryQueue, cfg.Queue.MaxRetry), log)
	auditService := audit.NewService(auditRepo, log)

	moderationService := moderation.NewService(listingRepo, userRepo, notificationService, auditService, moderation.Config{
		HighValueThreshold: cfg.Moderation.HighValueThreshold,
		DefaultPageSize:    cfg.Moderation.DefaultPageSize,
		MaxPageSize:        cfg.Moderation.MaxPageSize,
		StatsCacheTTL:      cfg.Moderation.StatsCacheTTL,
	}, log).WithStatsCache(cache.NewFromClient(redisClient, "marketmod:"))

	ledger := verification.NewLedger(documentRepo, userRepo,
		lock.NewRedisLocker(redisClient, cfg.Moderation.TrustTierLockTTL),
		notificationService, auditService,
		verification.Config{LegacyIsVerified: cfg.Moderation.LegacyIsVerified}, log).
		WithTransactor(postgres.NewTransactor(db))

	// Initialize handlers
	val := validator.New()
	handlers := handler.Handlers{
		Moderation:   handler.NewModerationHandler(moderationService, val, log),
		Verification: handler.NewVerificationHandler(ledger, val, log),
		Notification: handler.NewNotificationHandler(notificationService, log),
		Audit:        handler.NewAuditHandler(auditService, log),
	}

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer).
		WithBlacklist(middleware.NewRedisTokenBlacklist(redisClient))
	idempotency := middleware.NewIdempotencyMiddleware(redisClient, cfg.Idempotency.TTL, false, log)

	// Setup router
	r := mux.NewRouter()

	// Middleware
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	r.Use(middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, log).Limit)

	// Routes
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ready", readyCheck(db, redisClient)).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	handlers.Register(api, authMW.Authenticate, idempotency.Require)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Moderation service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down moderation service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Moderation service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Moderation service stopped gracefully", nil)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	_ = r
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"moderation"}`))
}

func readyCheck(db *sqlx.DB, rdb redis.UniversalClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","reason":"database unavailable"}`))
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","reason":"redis unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"moderation"}`))
	}
}
