// ==============================================================================
// NOTIFICATION WORKER MAIN - cmd/worker/main.go
// ==============================================================================
package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"marketmod/internal/repository/postgres"
	"marketmod/internal/worker"
	"marketmod/pkg/config"
	"marketmod/pkg/logger"
	"marketmod/pkg/mailer"
)

func main() {
	cfg := config.Load()
	log := logger.New("notification-worker")

	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

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

	sender := mailer.New(mailer.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
		UseTLS:   cfg.Email.SMTPUseTLS,
	})

	processor := worker.NewProcessor(
		postgres.NewNotificationRepository(db),
		postgres.NewUserRepository(db),
		sender,
		log,
	)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues:      map[string]int{cfg.Queue.DeliveryQueue: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Error("Notification delivery failed", map[string]interface{}{
					"task":      task.Type(),
					"error":     err.Error(),
					"retried":   retried,
					"max_retry": maxRetry,
				})
			}),
		},
	)

	log.Info("Notification worker started", map[string]interface{}{
		"queue":       cfg.Queue.DeliveryQueue,
		"concurrency": cfg.Queue.Concurrency,
	})

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	if err := srv.Run(processor.Handler()); err != nil {
		log.Fatal("Worker stopped", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Notification worker stopped gracefully", nil)
}
