// ==============================================================================
// TRUST TIER REPAIR CLI - cmd/trusttier/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"marketmod/internal/audit"
	"marketmod/internal/lock"
	"marketmod/internal/notification"
	"marketmod/internal/repository/postgres"
	"marketmod/internal/verification"
	"marketmod/pkg/config"
	"marketmod/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "trusttier: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "trusttier",
		Short:        "Repair and backfill user trust tiers",
		SilenceUsage: true,
	}
	cmd.AddCommand(newRecomputeCmd())
	return cmd
}

func newRecomputeCmd() *cobra.Command {
	var (
		userFlag  string
		actorFlag string
		all       bool
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Re-derive trust tiers from approved documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (userFlag == "") == !all {
				return fmt.Errorf("exactly one of --user or --all is required")
			}
			actorID, err := uuid.Parse(actorFlag)
			if err != nil || actorID == uuid.Nil {
				return fmt.Errorf("--actor must be a user id")
			}
			if batchSize <= 0 {
				return fmt.Errorf("--batch-size must be positive")
			}

			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if !all {
				userID, err := uuid.Parse(userFlag)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				previous, level, err := rt.ledger.RecomputeTrustTierBy(cmd.Context(), userID, actorID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", userID, previous, level)
				return nil
			}
			return recomputeAll(cmd, rt, actorID, batchSize)
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "User id to recompute")
	cmd.Flags().BoolVar(&all, "all", false, "Recompute every user")
	cmd.Flags().StringVar(&actorFlag, "actor", "", "Operator user id recorded in the audit trail")
	cmd.Flags().IntVar(&batchSize, "batch-size", 200, "Users loaded per page with --all")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// recomputeAll walks users in id order. A failing user is reported and
// skipped so one bad record does not stop the backfill.
func recomputeAll(cmd *cobra.Command, rt *runtime, actorID uuid.UUID, batchSize int) error {
	ctx := cmd.Context()
	var processed, changed, failed int
	after := uuid.Nil
	for {
		ids, err := rt.users.ListIDs(ctx, after, batchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			previous, level, err := rt.ledger.RecomputeTrustTierBy(ctx, id, actorID)
			processed++
			if err != nil {
				failed++
				rt.log.Error("Trust tier recompute failed", map[string]interface{}{
					"user_id": id,
					"error":   err.Error(),
				})
				continue
			}
			if previous != level {
				changed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", id, previous, level)
			}
		}
		after = ids[len(ids)-1]
	}

	rt.log.Info("Trust tier backfill finished", map[string]interface{}{
		"processed": processed,
		"changed":   changed,
		"failed":    failed,
	})
	if failed > 0 {
		return fmt.Errorf("%d of %d users failed", failed, processed)
	}
	return nil
}

type runtime struct {
	db     *sqlx.DB
	rdb    *redis.Client
	users  *postgres.UserRepository
	ledger *verification.Ledger
	log    logger.Logger
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.Load()
	log := logger.New("trusttier")

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	users := postgres.NewUserRepository(db)
	// Recompute never notifies, so no delivery queue is wired.
	notifier := notification.NewService(postgres.NewNotificationRepository(db), nil, log)
	ledger := verification.NewLedger(
		postgres.NewDocumentRepository(db),
		users,
		lock.NewRedisLocker(rdb, cfg.Moderation.TrustTierLockTTL),
		notifier,
		audit.NewService(postgres.NewAuditRepository(db), log),
		verification.Config{LegacyIsVerified: cfg.Moderation.LegacyIsVerified},
		log,
	).WithTransactor(postgres.NewTransactor(db))
	return &runtime{db: db, rdb: rdb, users: users, ledger: ledger, log: log}, nil
}

func (r *runtime) close() {
	_ = r.rdb.Close()
	_ = r.db.Close()
}
