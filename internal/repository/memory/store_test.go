package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"
)

func pendingListing(owner uuid.UUID) *domain.Listing {
	return &domain.Listing{
		ID:               uuid.New(),
		OwnerID:          owner,
		Title:            "Plot 12",
		Price:            decimal.NewFromInt(10000),
		ModerationStatus: domain.ModerationStatusPending,
		SubmittedAt:      time.Now().UTC(),
	}
}

func TestSeedListing_RejectsInvariantViolations(t *testing.T) {
	s := NewStore()

	l := pendingListing(uuid.New())
	l.ModerationStatus = domain.ModerationStatusApproved
	assert.ErrorIs(t, s.SeedListing(l), errors.ErrValidation)

	l = pendingListing(uuid.New())
	l.ModerationStatus = domain.ModerationStatusRejected
	assert.ErrorIs(t, s.SeedListing(l), errors.ErrValidation)

	l = pendingListing(uuid.New())
	require.NoError(t, s.SeedListing(l))
	got, err := s.Listings().FindByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNone, got.ExplicitPriority)
}

func TestListingConditionalUpdate(t *testing.T) {
	s := NewStore()
	l := pendingListing(uuid.New())
	require.NoError(t, s.SeedListing(l))
	repo := s.Listings()
	reviewer := uuid.New()
	now := time.Now().UTC()

	approved, err := repo.ConditionalUpdate(context.Background(), l.ID, domain.ModerationStatusPending, domain.ListingPatch{
		ModerationStatus: domain.ModerationStatusApproved,
		IsActive:         true,
		ReviewedAt:       &now,
		ReviewedBy:       &reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationStatusApproved, approved.ModerationStatus)

	// Stale expectation loses.
	_, err = repo.ConditionalUpdate(context.Background(), l.ID, domain.ModerationStatusPending, domain.ListingPatch{
		ModerationStatus: domain.ModerationStatusApproved,
		IsActive:         true,
	})
	assert.ErrorIs(t, err, errors.ErrConcurrentModification)

	// A patch that would break an invariant is refused.
	_, err = repo.ConditionalUpdate(context.Background(), l.ID, domain.ModerationStatusApproved, domain.ListingPatch{
		ModerationStatus: domain.ModerationStatusRejected,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidState)

	got, err := repo.FindByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationStatusApproved, got.ModerationStatus)

	_, err = repo.ConditionalUpdate(context.Background(), uuid.New(), domain.ModerationStatusPending, domain.ListingPatch{})
	assert.ErrorIs(t, err, errors.ErrConcurrentModification)
}

func TestFindByID_ReturnsCopies(t *testing.T) {
	s := NewStore()
	l := pendingListing(uuid.New())
	require.NoError(t, s.SeedListing(l))

	got, err := s.Listings().FindByID(context.Background(), l.ID)
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := s.Listings().FindByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plot 12", again.Title)

	_, err = s.Listings().FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrListingNotFound)
}

func TestCountByStatus(t *testing.T) {
	s := NewStore()
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SeedListing(pendingListing(owner)))
	}
	approved := pendingListing(owner)
	approved.ModerationStatus = domain.ModerationStatusApproved
	approved.IsActive = true
	require.NoError(t, s.SeedListing(approved))

	rows, err := s.Listings().CountByStatus(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.StatusCount{
		{Status: domain.ModerationStatusApproved, Count: 1},
		{Status: domain.ModerationStatusPending, Count: 3},
	}, rows)
}

func TestUserListIDs_Pages(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.SeedUser(&domain.User{ID: uuid.New()})
	}
	var seen []uuid.UUID
	after := uuid.Nil
	for {
		page, err := s.Users().ListIDs(context.Background(), after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page...)
		after = page[len(page)-1]
	}
	assert.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1].String(), seen[i].String())
	}
}

func TestDocumentSubmit_KeepsApprovedOfSameType(t *testing.T) {
	s := NewStore()
	owner := uuid.New()
	approved := &domain.VerificationDocument{ID: uuid.New(), OwnerID: owner, DocumentType: "passport", VerificationStatus: domain.DocumentStatusApproved}
	rejected := &domain.VerificationDocument{ID: uuid.New(), OwnerID: owner, DocumentType: "passport", VerificationStatus: domain.DocumentStatusRejected}
	s.SeedDocument(approved)
	s.SeedDocument(rejected)

	replaced, err := s.Documents().Submit(context.Background(), &domain.VerificationDocument{
		ID: uuid.New(), OwnerID: owner, DocumentType: "passport", VerificationStatus: domain.DocumentStatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{rejected.ID}, replaced)

	docs, err := s.Documents().ListByUser(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestTransactor_RollsBackUserAndDocumentWrites(t *testing.T) {
	s := NewStore()
	owner := uuid.New()
	s.SeedUser(&domain.User{ID: owner, DisplayName: "Chisomo"})
	pending := &domain.VerificationDocument{ID: uuid.New(), OwnerID: owner, DocumentType: "passport", VerificationStatus: domain.DocumentStatusPending}
	s.SeedDocument(pending)
	ctx := context.Background()

	err := s.Transactor().WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.Documents().ConditionalUpdate(ctx, pending.ID, domain.DocumentStatusPending, domain.DocumentPatch{
			VerificationStatus: domain.DocumentStatusApproved,
			ReviewedAt:         time.Now().UTC(),
			ReviewedBy:         uuid.New(),
		})
		require.NoError(t, err)
		_, err = s.Documents().Submit(ctx, &domain.VerificationDocument{
			ID: uuid.New(), OwnerID: owner, DocumentType: "utility_bill", VerificationStatus: domain.DocumentStatusPending,
		})
		require.NoError(t, err)
		_, err = s.Users().Update(ctx, owner, domain.UserPatch{VerificationLevel: domain.VerificationLevelVerified, IsVerified: true})
		require.NoError(t, err)
		return errors.Validation("abort")
	})
	assert.ErrorIs(t, err, errors.ErrValidation)

	docs, err := s.Documents().ListByUser(ctx, owner)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.DocumentStatusPending, docs[0].VerificationStatus)
	assert.Nil(t, docs[0].ReviewedBy)

	u, err := s.Users().FindByID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelNone, u.VerificationLevel)
	assert.False(t, u.IsVerified)

	err = s.Transactor().WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.Users().Update(ctx, owner, domain.UserPatch{VerificationLevel: domain.VerificationLevelPartial})
		return err
	})
	require.NoError(t, err)
	u, err = s.Users().FindByID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelPartial, u.VerificationLevel)
}
