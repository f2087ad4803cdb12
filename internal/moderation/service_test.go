package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketmod/internal/domain"
	"marketmod/internal/repository/memory"
	"marketmod/pkg/cache"
	"marketmod/pkg/logger"
)

// --- Mocks ---

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, userID uuid.UUID, typ domain.NotificationType, title, message string, payload domain.Metadata) error {
	args := m.Called(ctx, userID, typ, title, message, payload)
	return args.Error(0)
}

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) Append(ctx context.Context, action domain.AuditAction, actorID uuid.UUID, targetType string, targetID uuid.UUID, details domain.Metadata) error {
	args := m.Called(ctx, action, actorID, targetType, targetID, details)
	return args.Error(0)
}

// memoryStatsCache is a map-backed StatsCache.
type memoryStatsCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes int
}

func newMemoryStatsCache() *memoryStatsCache {
	return &memoryStatsCache{entries: make(map[string][]byte)}
}

func (c *memoryStatsCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryStatsCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryStatsCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.deletes++
	return nil
}

// --- Fixture ---

type fixture struct {
	store    *memory.Store
	notifier *MockNotifier
	auditor  *MockAuditor
	svc      *Service
	reviewer uuid.UUID
	owner    *domain.User
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		notifier: new(MockNotifier),
		auditor:  new(MockAuditor),
		reviewer: uuid.New(),
		owner: &domain.User{
			ID:                uuid.New(),
			DisplayName:       "Amina Banda",
			Email:             "amina@example.com",
			VerificationLevel: domain.VerificationLevelPartial,
		},
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SeedUser(f.owner)
	f.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.auditor.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.svc = f.newService(f.store.Listings())
	return f
}

func (f *fixture) newService(listings ListingRepository) *Service {
	svc := NewService(listings, f.store.Users(), f.notifier, f.auditor, DefaultConfig(), logger.NewNop())
	svc.now = func() time.Time { return f.clock }
	return svc
}

type listingOpt func(*domain.Listing)

func withStatus(status domain.ModerationStatus) listingOpt {
	return func(l *domain.Listing) {
		l.ModerationStatus = status
		switch status {
		case domain.ModerationStatusApproved:
			l.IsActive = true
		case domain.ModerationStatusRejected:
			reason := "blurry photos"
			l.RejectionReason = &reason
		}
	}
}

func withOwner(owner uuid.UUID) listingOpt {
	return func(l *domain.Listing) { l.OwnerID = owner }
}

func submittedAgo(d time.Duration) listingOpt {
	return func(l *domain.Listing) { l.SubmittedAt = l.SubmittedAt.Add(-d) }
}

func (f *fixture) seedListing(t *testing.T, title string, opts ...listingOpt) *domain.Listing {
	t.Helper()
	l := &domain.Listing{
		ID:               uuid.New(),
		OwnerID:          f.owner.ID,
		Title:            title,
		Location:         "Lilongwe",
		Price:            decimal.NewFromInt(25000),
		MediaCount:       2,
		ModerationStatus: domain.ModerationStatusPending,
		SubmittedAt:      f.clock.Add(-24 * time.Hour),
	}
	for _, opt := range opts {
		opt(l)
	}
	require.NoError(t, f.store.SeedListing(l))
	return l
}

func (f *fixture) listing(t *testing.T, id uuid.UUID) *domain.Listing {
	t.Helper()
	l, err := f.store.Listings().FindByID(context.Background(), id)
	require.NoError(t, err)
	return l
}

// failingListings fails ConditionalUpdate for one listing id.
type failingListings struct {
	ListingRepository
	failID uuid.UUID
}

func (r *failingListings) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.ModerationStatus, patch domain.ListingPatch) (*domain.Listing, error) {
	if id == r.failID {
		return nil, fmt.Errorf("connection reset by peer")
	}
	return r.ListingRepository.ConditionalUpdate(ctx, id, expected, patch)
}

// barrierListings holds the first n FindByID calls until all n have read, so
// concurrent deciders observe the same PENDING snapshot.
type barrierListings struct {
	ListingRepository
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func newBarrierListings(repo ListingRepository, n int) *barrierListings {
	return &barrierListings{ListingRepository: repo, pending: n, release: make(chan struct{})}
}

func (r *barrierListings) FindByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	l, err := r.ListingRepository.FindByID(ctx, id)
	r.mu.Lock()
	if r.pending == 0 {
		r.mu.Unlock()
		return l, err
	}
	r.pending--
	if r.pending == 0 {
		close(r.release)
	}
	r.mu.Unlock()
	<-r.release
	return l, err
}
