package moderation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"
)

func TestDecideListings_Approve(t *testing.T) {
	f := newFixture(t)
	l := f.seedListing(t, "Two bedroom flat")

	result, err := f.svc.DecideListings(context.Background(), DecisionRequest{
		ListingIDs: []uuid.UUID{l.ID},
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
		Featured:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AppliedCount)
	assert.Equal(t, []uuid.UUID{l.ID}, result.Applied)
	assert.Empty(t, result.Skipped)

	got := f.listing(t, l.ID)
	assert.Equal(t, domain.ModerationStatusApproved, got.ModerationStatus)
	assert.True(t, got.IsActive)
	assert.True(t, got.IsFeatured)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, f.reviewer, *got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, got.ReviewedAt.Equal(f.clock))
	assert.Nil(t, got.RejectionReason)
	assert.NoError(t, got.CheckInvariants())

	f.notifier.AssertCalled(t, "Send", mock.Anything, f.owner.ID, domain.NotificationPropertyApproved,
		"Listing approved", mock.Anything, mock.Anything)
	f.auditor.AssertCalled(t, "Append", mock.Anything, domain.AuditActionApproveProperty, f.reviewer,
		domain.TargetTypeListing, l.ID, mock.MatchedBy(func(d domain.Metadata) bool {
			return d["previous_status"] == "PENDING" && d["new_status"] == "APPROVED" && d["bulk"] == false
		}))
}

func TestDecideListings_Reject(t *testing.T) {
	f := newFixture(t)
	l := f.seedListing(t, "Shop front", withStatus(domain.ModerationStatusPending))

	result, err := f.svc.DecideListings(context.Background(), DecisionRequest{
		ListingIDs: []uuid.UUID{l.ID},
		Action:     ActionReject,
		ReviewerID: f.reviewer,
		Reason:     "  Missing title deed  ",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AppliedCount)

	got := f.listing(t, l.ID)
	assert.Equal(t, domain.ModerationStatusRejected, got.ModerationStatus)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "Missing title deed", *got.RejectionReason)
	assert.NoError(t, got.CheckInvariants())

	f.notifier.AssertCalled(t, "Send", mock.Anything, f.owner.ID, domain.NotificationPropertyRejected,
		"Listing rejected", mock.Anything, mock.MatchedBy(func(p domain.Metadata) bool {
			return p["reason"] == "Missing title deed"
		}))
	f.auditor.AssertCalled(t, "Append", mock.Anything, domain.AuditActionRejectProperty, f.reviewer,
		domain.TargetTypeListing, l.ID, mock.Anything)
}

func TestDecideListings_RejectWithoutReasonChangesNothing(t *testing.T) {
	f := newFixture(t)
	l := f.seedListing(t, "Garden plot")

	for _, reason := range []string{"", "   ", "\t\n"} {
		result, err := f.svc.DecideListings(context.Background(), DecisionRequest{
			ListingIDs: []uuid.UUID{l.ID},
			Action:     ActionReject,
			ReviewerID: f.reviewer,
			Reason:     reason,
		})
		assert.Nil(t, result)
		assert.ErrorIs(t, err, errors.ErrValidation)
	}

	got := f.listing(t, l.ID)
	assert.Equal(t, domain.ModerationStatusPending, got.ModerationStatus)
	assert.Nil(t, got.ReviewedAt)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.auditor.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDecideListings_ValidatesRequest(t *testing.T) {
	f := newFixture(t)
	l := f.seedListing(t, "Office")

	tests := []struct {
		name string
		req  DecisionRequest
	}{
		{"no listings", DecisionRequest{Action: ActionApprove, ReviewerID: f.reviewer}},
		{"no reviewer", DecisionRequest{ListingIDs: []uuid.UUID{l.ID}, Action: ActionApprove}},
		{"unknown action", DecisionRequest{ListingIDs: []uuid.UUID{l.ID}, Action: "ARCHIVE", ReviewerID: f.reviewer}},
		{"nil listing id", DecisionRequest{ListingIDs: []uuid.UUID{l.ID, uuid.Nil}, Action: ActionApprove, ReviewerID: f.reviewer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.DecideListings(context.Background(), tt.req)
			assert.ErrorIs(t, err, errors.ErrValidation)
		})
	}
	assert.Equal(t, domain.ModerationStatusPending, f.listing(t, l.ID).ModerationStatus)
}

func TestDecideListings_RepeatIsNoOp(t *testing.T) {
	f := newFixture(t)
	l := f.seedListing(t, "Warehouse")
	req := DecisionRequest{ListingIDs: []uuid.UUID{l.ID}, Action: ActionApprove, ReviewerID: f.reviewer}

	first, err := f.svc.DecideListings(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AppliedCount)
	afterFirst := f.listing(t, l.ID)

	second, err := f.svc.DecideListings(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.AppliedCount)
	require.Len(t, second.Skipped, 1)
	assert.Equal(t, "ALREADY_APPROVED", second.Skipped[0].Reason)

	assert.Equal(t, afterFirst, f.listing(t, l.ID))
	f.notifier.AssertNumberOfCalls(t, "Send", 1)
	f.auditor.AssertNumberOfCalls(t, "Append", 1)
}

func TestDecideListings_BulkPartialSuccess(t *testing.T) {
	f := newFixture(t)
	pending := f.seedListing(t, "Pending bungalow")
	approved := f.seedListing(t, "Approved villa", withStatus(domain.ModerationStatusApproved))
	rejected := f.seedListing(t, "Rejected hut", withStatus(domain.ModerationStatusRejected))
	missing := uuid.New()

	result, err := f.svc.DecideListings(context.Background(), DecisionRequest{
		ListingIDs: []uuid.UUID{pending.ID, approved.ID, missing, rejected.ID},
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.AppliedCount)
	assert.Equal(t, []uuid.UUID{pending.ID}, result.Applied)
	assert.Equal(t, []SkippedItem{
		{ID: approved.ID, Reason: "ALREADY_APPROVED"},
		{ID: missing, Reason: SkipNotFound},
		{ID: rejected.ID, Reason: "ALREADY_REJECTED"},
	}, result.Skipped)

	// Applied and skipped partition the request.
	assert.Equal(t, 4, len(result.Applied)+len(result.Skipped))
	assert.Equal(t, domain.ModerationStatusRejected, f.listing(t, rejected.ID).ModerationStatus)

	f.auditor.AssertCalled(t, "Append", mock.Anything, domain.AuditActionApproveProperty, f.reviewer,
		domain.TargetTypeListing, pending.ID, mock.MatchedBy(func(d domain.Metadata) bool {
			return d["bulk"] == true
		}))
}

func TestDecideListings_DuplicateIDsAreDecidedOnce(t *testing.T) {
	f := newFixture(t)
	l := f.seedListing(t, "Duplex")

	result, err := f.svc.DecideListings(context.Background(), DecisionRequest{
		ListingIDs: []uuid.UUID{l.ID, l.ID},
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AppliedCount)
	assert.Empty(t, result.Skipped)
	f.notifier.AssertNumberOfCalls(t, "Send", 1)
}

func TestDecideListings_ConcurrentDecisionsApplyOnce(t *testing.T) {
	f := newFixture(t)
	l := f.seedListing(t, "Contested listing")
	svc := f.newService(newBarrierListings(f.store.Listings(), 2))

	requests := []DecisionRequest{
		{ListingIDs: []uuid.UUID{l.ID}, Action: ActionApprove, ReviewerID: f.reviewer},
		{ListingIDs: []uuid.UUID{l.ID}, Action: ActionReject, ReviewerID: uuid.New(), Reason: "duplicate"},
	}
	results := make([]*TransitionResult, len(requests))
	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.DecideListings(context.Background(), requests[i])
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	applied, conflicts := 0, 0
	for _, res := range results {
		require.NotNil(t, res)
		applied += res.AppliedCount
		for _, s := range res.Skipped {
			if s.Reason == SkipConcurrentModification {
				conflicts++
			}
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, conflicts)

	got := f.listing(t, l.ID)
	assert.NotEqual(t, domain.ModerationStatusPending, got.ModerationStatus)
	assert.NoError(t, got.CheckInvariants())
	f.notifier.AssertNumberOfCalls(t, "Send", 1)
}

func TestDecideListings_StoreFailureReturnsPartialResult(t *testing.T) {
	f := newFixture(t)
	first := f.seedListing(t, "First")
	broken := f.seedListing(t, "Broken")
	last := f.seedListing(t, "Last")
	svc := f.newService(&failingListings{ListingRepository: f.store.Listings(), failID: broken.ID})

	result, err := svc.DecideListings(context.Background(), DecisionRequest{
		ListingIDs: []uuid.UUID{first.ID, broken.ID, last.ID},
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []uuid.UUID{first.ID}, result.Applied)

	assert.Equal(t, domain.ModerationStatusApproved, f.listing(t, first.ID).ModerationStatus)
	assert.Equal(t, domain.ModerationStatusPending, f.listing(t, broken.ID).ModerationStatus)
	assert.Equal(t, domain.ModerationStatusPending, f.listing(t, last.ID).ModerationStatus)
}

func TestDecideListings_SideEffectFailureKeepsDecision(t *testing.T) {
	f := newFixture(t)
	f.notifier = new(MockNotifier)
	f.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.ErrNotFound)
	f.auditor = new(MockAuditor)
	f.auditor.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.ErrConcurrentModification)
	svc := f.newService(f.store.Listings())
	l := f.seedListing(t, "Flaky inbox")

	result, err := svc.DecideListings(context.Background(), DecisionRequest{
		ListingIDs: []uuid.UUID{l.ID},
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AppliedCount)
	assert.Equal(t, domain.ModerationStatusApproved, f.listing(t, l.ID).ModerationStatus)
}

func TestDecideListings_SideEffectsOutliveCancelledRequest(t *testing.T) {
	f := newFixture(t)
	f.notifier = new(MockNotifier)
	f.notifier.On("Send", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }),
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	l := f.seedListing(t, "Late notification")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := f.newService(&cancelOnWrite{ListingRepository: f.store.Listings(), cancel: cancel})

	_, err := svc.DecideListings(ctx, DecisionRequest{
		ListingIDs: []uuid.UUID{l.ID},
		Action:     ActionApprove,
		ReviewerID: f.reviewer,
	})
	require.NoError(t, err)
	f.notifier.AssertNumberOfCalls(t, "Send", 1)
}

// cancelOnWrite cancels the caller's context right after a successful write.
type cancelOnWrite struct {
	ListingRepository
	cancel context.CancelFunc
}

func (r *cancelOnWrite) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.ModerationStatus, patch domain.ListingPatch) (*domain.Listing, error) {
	l, err := r.ListingRepository.ConditionalUpdate(ctx, id, expected, patch)
	if err == nil && r.cancel != nil {
		r.cancel()
	}
	return l, err
}
