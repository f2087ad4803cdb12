package verification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmod/internal/audit"
	"marketmod/internal/domain"
	"marketmod/internal/lock"
	"marketmod/internal/notification"
	"marketmod/internal/repository/memory"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"
)

type fixture struct {
	store    *memory.Store
	ledger   *Ledger
	reviewer uuid.UUID
	user     uuid.UUID
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, cfg, lock.NewLocalLocker())
}

func newFixtureWithLocker(t *testing.T, cfg Config, locker Locker) *fixture {
	t.Helper()
	store := memory.NewStore()
	return newFixtureWithUsers(t, cfg, locker, store, store.Users())
}

func newFixtureWithUsers(t *testing.T, cfg Config, locker Locker, store *memory.Store, users UserRepository) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{store: store, reviewer: uuid.New(), user: uuid.New()}
	store.SeedUser(&domain.User{ID: f.user, DisplayName: "Tamanda", Email: "tamanda@example.com"})
	f.ledger = NewLedger(
		store.Documents(),
		users,
		locker,
		notification.NewService(store.Notifications(), nil, log),
		audit.NewService(store.Audit(), log),
		cfg,
		log,
	).WithTransactor(store.Transactor())
	return f
}

func (f *fixture) submit(t *testing.T, docType string) *domain.VerificationDocument {
	t.Helper()
	doc, err := f.ledger.SubmitDocument(context.Background(), f.user, docType)
	require.NoError(t, err)
	return doc
}

func (f *fixture) seedDocument(t *testing.T, docType string, status domain.DocumentStatus) *domain.VerificationDocument {
	t.Helper()
	doc := &domain.VerificationDocument{
		ID:                 uuid.New(),
		OwnerID:            f.user,
		DocumentType:       docType,
		VerificationStatus: status,
		SubmittedAt:        time.Now().UTC(),
	}
	f.store.SeedDocument(doc)
	return doc
}

func (f *fixture) setLevel(t *testing.T, level domain.VerificationLevel) {
	t.Helper()
	_, err := f.store.Users().Update(context.Background(), f.user, domain.UserPatch{VerificationLevel: level})
	require.NoError(t, err)
}

func (f *fixture) userState(t *testing.T) *domain.User {
	t.Helper()
	u, err := f.store.Users().FindByID(context.Background(), f.user)
	require.NoError(t, err)
	return u
}

func (f *fixture) auditCount(t *testing.T, action domain.AuditAction) int {
	t.Helper()
	records, err := f.store.Audit().List(context.Background(), domain.AuditFilter{Limit: 100})
	require.NoError(t, err)
	n := 0
	for _, r := range records {
		if r.Action == action {
			n++
		}
	}
	return n
}

func TestComputeTier(t *testing.T) {
	doc := func(typ string, status domain.DocumentStatus) *domain.VerificationDocument {
		return &domain.VerificationDocument{DocumentType: typ, VerificationStatus: status}
	}
	tests := []struct {
		name string
		docs []*domain.VerificationDocument
		want domain.VerificationLevel
	}{
		{"no documents", nil, domain.VerificationLevelNone},
		{"only pending and rejected", []*domain.VerificationDocument{
			doc("national_id", domain.DocumentStatusPending),
			doc("passport", domain.DocumentStatusRejected),
		}, domain.VerificationLevelNone},
		{"one approved", []*domain.VerificationDocument{
			doc("national_id", domain.DocumentStatusApproved),
			doc("passport", domain.DocumentStatusRejected),
		}, domain.VerificationLevelPartial},
		{"same type twice counts once", []*domain.VerificationDocument{
			doc("national_id", domain.DocumentStatusApproved),
			doc("national_id", domain.DocumentStatusApproved),
		}, domain.VerificationLevelPartial},
		{"two distinct types", []*domain.VerificationDocument{
			doc("national_id", domain.DocumentStatusApproved),
			doc("utility_bill", domain.DocumentStatusApproved),
		}, domain.VerificationLevelVerified},
		{"three distinct types", []*domain.VerificationDocument{
			doc("national_id", domain.DocumentStatusApproved),
			doc("utility_bill", domain.DocumentStatusApproved),
			doc("passport", domain.DocumentStatusApproved),
		}, domain.VerificationLevelVerified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeTier(tt.docs))
		})
	}
}

func TestNextLevel(t *testing.T) {
	none, partial, verified, full := domain.VerificationLevelNone, domain.VerificationLevelPartial,
		domain.VerificationLevelVerified, domain.VerificationLevelFullVerified

	assert.Equal(t, verified, nextLevel(partial, verified, tierApprove))
	assert.Equal(t, verified, nextLevel(verified, partial, tierApprove), "approval never lowers")
	assert.Equal(t, none, nextLevel(none, partial, tierReject), "rejection never raises")
	assert.Equal(t, partial, nextLevel(verified, partial, tierReject))
	assert.Equal(t, none, nextLevel(verified, none, tierRecompute))
	assert.Equal(t, verified, nextLevel(none, verified, tierRecompute))
	for _, mode := range []tierMode{tierApprove, tierReject, tierRecompute} {
		assert.Equal(t, full, nextLevel(full, none, mode))
	}
}

func TestReviewDocument_TierProgression(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, domain.VerificationLevelNone, f.userState(t).VerificationLevel)

	id := f.submit(t, "national_id")
	res, err := f.ledger.ReviewDocument(context.Background(), id.ID, OutcomeApprove, f.reviewer, "")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelNone, res.PreviousLevel)
	assert.Equal(t, domain.VerificationLevelPartial, res.Level)
	assert.False(t, res.IsVerified)
	assert.Equal(t, domain.DocumentStatusApproved, res.Document.VerificationStatus)
	require.NotNil(t, res.Document.ReviewedBy)
	assert.Equal(t, f.reviewer, *res.Document.ReviewedBy)

	u := f.userState(t)
	assert.Equal(t, domain.VerificationLevelPartial, u.VerificationLevel)
	assert.Equal(t, domain.KYCStatusProcessing, u.KYCStatus)

	bill := f.submit(t, "utility_bill")
	res, err = f.ledger.ReviewDocument(context.Background(), bill.ID, OutcomeApprove, f.reviewer, "")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelVerified, res.Level)
	assert.True(t, res.IsVerified)

	u = f.userState(t)
	assert.Equal(t, domain.VerificationLevelVerified, u.VerificationLevel)
	assert.True(t, u.IsVerified)
	assert.Equal(t, domain.KYCStatusVerified, u.KYCStatus)

	inbox, err := f.store.Notifications().ListByUser(context.Background(), f.user, domain.NotificationFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	for _, n := range inbox {
		assert.Equal(t, domain.NotificationKYCApproved, n.Type)
	}

	records, err := f.store.Audit().List(context.Background(), domain.AuditFilter{TargetType: domain.TargetTypeDocument, Limit: 10})
	require.NoError(t, err)
	reviews := 0
	for _, r := range records {
		if r.Action == domain.AuditActionVerifyUserKYC {
			reviews++
			assert.Equal(t, f.reviewer, r.ActorID)
		}
	}
	assert.Equal(t, 2, reviews)
}

func TestReviewDocument_RejectionNeverRaisesTier(t *testing.T) {
	f := newFixture(t, Config{})
	// A stale tier: one approved document on file but the user still shows NONE.
	f.seedDocument(t, "national_id", domain.DocumentStatusApproved)
	passport := f.submit(t, "passport")

	res, err := f.ledger.ReviewDocument(context.Background(), passport.ID, OutcomeReject, f.reviewer, "expired")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelNone, res.Level)
	require.NotNil(t, res.Document.RejectionReason)
	assert.Equal(t, "expired", *res.Document.RejectionReason)
	assert.Equal(t, domain.KYCStatusRejected, f.userState(t).KYCStatus)

	// The explicit recompute catches up.
	level, err := f.ledger.RecomputeTrustTier(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelPartial, level)
}

func TestReviewDocument_RejectionCanLowerStaleTier(t *testing.T) {
	f := newFixture(t, Config{})
	f.setLevel(t, domain.VerificationLevelVerified)
	f.seedDocument(t, "national_id", domain.DocumentStatusApproved)
	bill := f.submit(t, "utility_bill")

	res, err := f.ledger.ReviewDocument(context.Background(), bill.ID, OutcomeReject, f.reviewer, "unreadable scan")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelVerified, res.PreviousLevel)
	assert.Equal(t, domain.VerificationLevelPartial, res.Level)
	assert.False(t, f.userState(t).IsVerified)
}

func TestReviewDocument_FullVerifiedIsKept(t *testing.T) {
	f := newFixture(t, Config{})
	f.setLevel(t, domain.VerificationLevelFullVerified)
	doc := f.submit(t, "passport")

	res, err := f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeReject, f.reviewer, "mismatch")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelFullVerified, res.Level)
	assert.True(t, res.IsVerified)

	level, err := f.ledger.RecomputeTrustTier(context.Background(), f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelFullVerified, level)
}

func TestReviewDocument_LegacyIsVerified(t *testing.T) {
	tierRule := newFixture(t, Config{})
	legacy := newFixture(t, Config{LegacyIsVerified: true})

	for _, f := range []*fixture{tierRule, legacy} {
		doc := f.submit(t, "national_id")
		_, err := f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeApprove, f.reviewer, "")
		require.NoError(t, err)
		assert.Equal(t, domain.VerificationLevelPartial, f.userState(t).VerificationLevel)
	}
	assert.False(t, tierRule.userState(t).IsVerified)
	assert.True(t, legacy.userState(t).IsVerified)
}

func TestReviewDocument_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	doc := f.submit(t, "national_id")
	missing := uuid.New()

	_, err := f.ledger.ReviewDocument(context.Background(), missing, "MAYBE", f.reviewer, "")
	assert.ErrorIs(t, err, errors.ErrValidation, "validation runs before lookup")

	_, err = f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeApprove, uuid.Nil, "")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeReject, f.reviewer, "  ")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = f.ledger.ReviewDocument(context.Background(), missing, OutcomeApprove, f.reviewer, "")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeApprove, f.reviewer, "")
	require.NoError(t, err)
	_, err = f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeReject, f.reviewer, "changed my mind")
	assert.ErrorIs(t, err, errors.ErrInvalidState)

	stored, err := f.store.Documents().FindByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusApproved, stored.VerificationStatus)
}

type busyLocker struct{}

func (busyLocker) Obtain(ctx context.Context, key string) (func(context.Context) error, error) {
	return nil, errors.ErrLockNotObtained
}

func TestReviewDocument_LockContention(t *testing.T) {
	f := newFixtureWithLocker(t, Config{}, busyLocker{})
	doc := f.submit(t, "national_id")

	_, err := f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeApprove, f.reviewer, "")
	assert.ErrorIs(t, err, errors.ErrConcurrentModification)

	stored, err := f.store.Documents().FindByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, stored.VerificationStatus)
	assert.Equal(t, domain.VerificationLevelNone, f.userState(t).VerificationLevel)
}

func TestReviewDocument_ConcurrentApprovalsReachVerified(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, Config{})
		docs := []*domain.VerificationDocument{f.submit(t, "national_id"), f.submit(t, "utility_bill")}

		var wg sync.WaitGroup
		for _, d := range docs {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				_, err := f.ledger.ReviewDocument(context.Background(), id, OutcomeApprove, f.reviewer, "")
				assert.NoError(t, err)
			}(d.ID)
		}
		wg.Wait()

		assert.Equal(t, domain.VerificationLevelVerified, f.userState(t).VerificationLevel)
	}
}

func TestSubmitDocument_ReplacesRejectedOfSameType(t *testing.T) {
	f := newFixture(t, Config{})
	first := f.submit(t, "Passport ")
	assert.Equal(t, "passport", first.DocumentType)
	assert.Equal(t, domain.DocumentStatusPending, first.VerificationStatus)

	_, err := f.ledger.ReviewDocument(context.Background(), first.ID, OutcomeReject, f.reviewer, "glare")
	require.NoError(t, err)

	second := f.submit(t, "passport")
	docs, err := f.ledger.ListDocuments(context.Background(), f.user)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, second.ID, docs[0].ID)

	_, err = f.ledger.SubmitDocument(context.Background(), f.user, "   ")
	assert.ErrorIs(t, err, errors.ErrValidation)
	_, err = f.ledger.SubmitDocument(context.Background(), uuid.New(), "passport")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRecomputeTrustTierBy_AuditsChangesOnly(t *testing.T) {
	f := newFixture(t, Config{})
	operator := uuid.New()
	f.setLevel(t, domain.VerificationLevelVerified)

	previous, level, err := f.ledger.RecomputeTrustTierBy(context.Background(), f.user, operator)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelVerified, previous)
	assert.Equal(t, domain.VerificationLevelNone, level)

	previous, level, err = f.ledger.RecomputeTrustTierBy(context.Background(), f.user, operator)
	require.NoError(t, err)
	assert.Equal(t, previous, level)

	records, err := f.store.Audit().List(context.Background(), domain.AuditFilter{TargetType: domain.TargetTypeUser, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditActionRecomputeTrustTier, records[0].Action)
	assert.Equal(t, operator, records[0].ActorID)

	_, _, err = f.ledger.RecomputeTrustTierBy(context.Background(), f.user, uuid.Nil)
	assert.ErrorIs(t, err, errors.ErrValidation)
	_, err = f.ledger.RecomputeTrustTier(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

type failingUsers struct {
	*memory.UserRepository
	fail bool
}

func (u *failingUsers) Update(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error) {
	if u.fail {
		return nil, fmt.Errorf("db down")
	}
	return u.UserRepository.Update(ctx, id, patch)
}

func TestReviewDocument_TierWriteFailureRollsBackReview(t *testing.T) {
	store := memory.NewStore()
	users := &failingUsers{UserRepository: store.Users(), fail: true}
	f := newFixtureWithUsers(t, Config{}, lock.NewLocalLocker(), store, users)
	doc := f.submit(t, "national_id")

	_, err := f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeApprove, f.reviewer, "")
	require.Error(t, err)

	stored, err := f.store.Documents().FindByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, stored.VerificationStatus)
	assert.Nil(t, stored.ReviewedBy)
	assert.Equal(t, domain.VerificationLevelNone, f.userState(t).VerificationLevel)

	assert.Zero(t, f.auditCount(t, domain.AuditActionVerifyUserKYC))

	// The document is still reviewable once the store recovers.
	users.fail = false
	result, err := f.ledger.ReviewDocument(context.Background(), doc.ID, OutcomeApprove, f.reviewer, "")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusApproved, result.Document.VerificationStatus)
	assert.Equal(t, domain.VerificationLevelPartial, f.userState(t).VerificationLevel)

	assert.Equal(t, 1, f.auditCount(t, domain.AuditActionVerifyUserKYC))
}

// racingLocker applies a competing write just before the lock is granted.
type racingLocker struct {
	inner  Locker
	before func()
}

func (l *racingLocker) Obtain(ctx context.Context, key string) (func(context.Context) error, error) {
	if l.before != nil {
		l.before()
		l.before = nil
	}
	return l.inner.Obtain(ctx, key)
}

func TestRecomputeTrustTierBy_PreviousReadUnderLock(t *testing.T) {
	locker := &racingLocker{inner: lock.NewLocalLocker()}
	f := newFixtureWithLocker(t, Config{}, locker)
	f.setLevel(t, domain.VerificationLevelPartial)
	locker.before = func() { f.setLevel(t, domain.VerificationLevelVerified) }

	previous, level, err := f.ledger.RecomputeTrustTierBy(context.Background(), f.user, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationLevelVerified, previous)
	assert.Equal(t, domain.VerificationLevelNone, level)

	records, err := f.store.Audit().List(context.Background(), domain.AuditFilter{TargetType: domain.TargetTypeUser, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(domain.VerificationLevelVerified), records[0].Details["previous_level"])
}
