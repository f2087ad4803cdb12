// Seeding tool that fills a development database with listing owners,
// pending listings and verification documents for the moderation queue.
// Usage (env overrides):
//
//	SEED_LISTINGS=12 SEED_OWNER_EMAIL=owner@example.com
//
// Reads DATABASE_URL via marketmod/pkg/config
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"marketmod/internal/repository/postgres"
	"marketmod/pkg/config"
	"marketmod/pkg/domain"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"
)

var locations = []string{"Lilongwe", "Blantyre", "Mzuzu", "Zomba"}

func main() {
	log := logger.New("seed-listings")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": "DATABASE_URL is required"})
	}

	count, err := strconv.Atoi(getenv("SEED_LISTINGS", "12"))
	if err != nil || count <= 0 {
		log.Fatal("Invalid SEED_LISTINGS", map[string]interface{}{"value": os.Getenv("SEED_LISTINGS")})
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	users := postgres.NewUserRepository(db)
	listings := postgres.NewListingRepository(db)
	documents := postgres.NewDocumentRepository(db)
	ctx := context.Background()

	// One owner per trust tier so verified/unverified filters have something to show.
	owners := []uuid.UUID{
		ensureUser(ctx, users, log, getenv("SEED_OWNER_EMAIL", "owner@example.com"), "Grace Mwale", domain.VerificationLevelNone, domain.KYCStatusPending),
		ensureUser(ctx, users, log, "partial.owner@example.com", "Yamikani Banda", domain.VerificationLevelPartial, domain.KYCStatusProcessing),
		ensureUser(ctx, users, log, "verified.owner@example.com", "Kondwani Phiri", domain.VerificationLevelVerified, domain.KYCStatusVerified),
	}

	ensureDocument(ctx, documents, log, owners[0], "national_id")
	ensureDocument(ctx, documents, log, owners[1], "proof_of_address")

	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		submitted := now.Add(-time.Duration(i*9) * time.Hour)
		l := &domain.Listing{
			ID:                uuid.New(),
			OwnerID:           owners[i%len(owners)],
			Title:             fmt.Sprintf("Plot %d, %s", 100+i, locations[i%len(locations)]),
			Location:          locations[i%len(locations)],
			Price:             decimal.NewFromInt(int64(5_000_000 + i*750_000)),
			MediaCount:        i % 7,
			HasLegalDocuments: i%3 == 0,
			ModerationStatus:  domain.ModerationStatusPending,
			ExplicitPriority:  domain.PriorityNone,
			SubmittedAt:       submitted,
			UpdatedAt:         submitted,
		}
		if i == 0 {
			l.ExplicitPriority = domain.PriorityHigh
		}
		if err := listings.Create(ctx, l); err != nil {
			log.Fatal("Create listing failed", map[string]interface{}{"error": err.Error()})
		}
	}
	log.Info("Listings created", map[string]interface{}{"count": count})

	fmt.Println("OK: owners, documents and pending listings seeded")
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func ensureUser(ctx context.Context, repo *postgres.UserRepository, log logger.Logger, email, name string, level domain.VerificationLevel, kyc domain.KYCStatus) uuid.UUID {
	existing, err := repo.FindByEmail(ctx, email)
	if err == nil {
		log.Info("User exists", map[string]interface{}{"email": email, "user_id": existing.ID})
		return existing.ID
	}
	if !errors.Is(err, errors.ErrUserNotFound) {
		log.Fatal("FindByEmail failed", map[string]interface{}{"error": err.Error()})
	}

	now := time.Now().UTC()
	u := &domain.User{
		ID:                uuid.New(),
		DisplayName:       name,
		Email:             email,
		VerificationLevel: level,
		IsVerified:        level == domain.VerificationLevelVerified,
		KYCStatus:         kyc,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := repo.Create(ctx, u); err != nil {
		log.Fatal("Create user failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("User created", map[string]interface{}{"email": email, "user_id": u.ID})
	return u.ID
}

func ensureDocument(ctx context.Context, repo *postgres.DocumentRepository, log logger.Logger, ownerID uuid.UUID, docType string) {
	now := time.Now().UTC()
	doc := &domain.VerificationDocument{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		DocumentType:       docType,
		VerificationStatus: domain.DocumentStatusPending,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}
	if _, err := repo.Submit(ctx, doc); err != nil {
		log.Fatal("Submit document failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Document submitted", map[string]interface{}{"owner_id": ownerID, "document_type": docType})
}
