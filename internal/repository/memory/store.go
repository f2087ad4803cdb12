// Package memory contains an in-memory implementation of the moderation
// repositories. It backs the behavioural tests and local runs of the CLI.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"

	"github.com/google/uuid"
)

// Store holds every entity behind one RWMutex so joined reads see a
// consistent snapshot. Reads return copies.
type Store struct {
	mu            sync.RWMutex
	listings      map[uuid.UUID]*domain.Listing
	users         map[uuid.UUID]*domain.User
	documents     map[uuid.UUID]*domain.VerificationDocument
	notifications map[uuid.UUID]*domain.Notification
	audit         []*domain.AuditLog
	now           func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		listings:      make(map[uuid.UUID]*domain.Listing),
		users:         make(map[uuid.UUID]*domain.User),
		documents:     make(map[uuid.UUID]*domain.VerificationDocument),
		notifications: make(map[uuid.UUID]*domain.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SeedListing inserts a listing after checking the moderation invariants.
func (s *Store) SeedListing(l *domain.Listing) error {
	if err := l.CheckInvariants(); err != nil {
		return errors.Validation("listing %s: %v", l.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneListing(l)
	if c.ExplicitPriority == "" {
		c.ExplicitPriority = domain.PriorityNone
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.listings[l.ID] = c
	return nil
}

// SeedUser inserts or replaces a user.
func (s *Store) SeedUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *u
	if c.VerificationLevel == "" {
		c.VerificationLevel = domain.VerificationLevelNone
	}
	if c.KYCStatus == "" {
		c.KYCStatus = domain.KYCStatusPending
	}
	s.users[u.ID] = &c
}

// SeedDocument inserts or replaces a verification document.
func (s *Store) SeedDocument(d *domain.VerificationDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[d.ID] = cloneDocument(d)
}

// Listings returns the listing repository view.
func (s *Store) Listings() *ListingRepository { return &ListingRepository{s: s} }

// Users returns the user repository view.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Documents returns the document repository view.
func (s *Store) Documents() *DocumentRepository { return &DocumentRepository{s: s} }

// Notifications returns the notification repository view.
func (s *Store) Notifications() *NotificationRepository { return &NotificationRepository{s: s} }

// Audit returns the audit repository view.
func (s *Store) Audit() *AuditRepository { return &AuditRepository{s: s} }

type ListingRepository struct{ s *Store }

func (r *ListingRepository) Create(ctx context.Context, l *domain.Listing) error {
	return r.s.SeedListing(l)
}

func (r *ListingRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.listings[id]
	if !ok {
		return nil, errors.ErrListingNotFound
	}
	return cloneListing(l), nil
}

func (r *ListingRepository) Query(ctx context.Context, filter domain.QueryFilter) ([]*domain.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	statuses := make(map[domain.ModerationStatus]bool)
	for _, st := range filter.EffectiveStatuses() {
		statuses[st] = true
	}
	term := filter.SearchTerm()

	out := []*domain.Listing{}
	for _, l := range r.s.listings {
		if !statuses[l.ModerationStatus] {
			continue
		}
		if filter.ExplicitPriority != nil && l.ExplicitPriority != *filter.ExplicitPriority {
			continue
		}
		owner, ok := r.s.users[l.OwnerID]
		if !ok {
			continue
		}
		switch filter.OwnerVerification {
		case domain.OwnerVerificationVerified:
			if !owner.VerificationLevel.AtLeastVerified() {
				continue
			}
		case domain.OwnerVerificationUnverified:
			if owner.VerificationLevel.AtLeastVerified() {
				continue
			}
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(l.Title), term) &&
			!strings.Contains(strings.ToLower(l.Location), term) &&
			!strings.Contains(strings.ToLower(owner.DisplayName), term) {
			continue
		}
		out = append(out, cloneListing(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *ListingRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.ModerationStatus, patch domain.ListingPatch) (*domain.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[id]
	if !ok || l.ModerationStatus != expected {
		return nil, errors.ConcurrentModification("listing %s is no longer %s", id, expected)
	}
	next := cloneListing(l)
	patch.Apply(next, r.s.now())
	if err := next.CheckInvariants(); err != nil {
		return nil, errors.InvalidState("listing %s: %v", id, err)
	}
	r.s.listings[id] = next
	return cloneListing(next), nil
}

func (r *ListingRepository) UpdatePriority(ctx context.Context, id uuid.UUID, priority domain.Priority) (*domain.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[id]
	if !ok {
		return nil, errors.ErrListingNotFound
	}
	l.ExplicitPriority = priority
	l.UpdatedAt = r.s.now()
	return cloneListing(l), nil
}

func (r *ListingRepository) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	counts := make(map[domain.ModerationStatus]int)
	for _, l := range r.s.listings {
		counts[l.ModerationStatus]++
	}
	out := []domain.StatusCount{}
	for _, st := range []domain.ModerationStatus{
		domain.ModerationStatusApproved, domain.ModerationStatusPending, domain.ModerationStatusRejected,
	} {
		if n := counts[st]; n > 0 {
			out = append(out, domain.StatusCount{Status: st, Count: n})
		}
	}
	return out, nil
}

type UserRepository struct{ s *Store }

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.User{}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := r.s.users[id]; ok {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *UserRepository) Update(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	prior := *u
	undoFrom(ctx).keepUser(id, &prior)
	u.VerificationLevel = patch.VerificationLevel
	u.IsVerified = patch.IsVerified
	u.KYCStatus = patch.KYCStatus
	u.UpdatedAt = r.s.now()
	c := *u
	return &c, nil
}

func (r *UserRepository) ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.s.users))
	for id := range r.s.users {
		if id.String() > after.String() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type DocumentRepository struct{ s *Store }

func (r *DocumentRepository) Submit(ctx context.Context, doc *domain.VerificationDocument) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	undo := undoFrom(ctx)
	var replaced []uuid.UUID
	for id, d := range r.s.documents {
		if d.OwnerID == doc.OwnerID && d.DocumentType == doc.DocumentType &&
			d.VerificationStatus != domain.DocumentStatusApproved {
			replaced = append(replaced, id)
			undo.keepDocument(id, d)
			delete(r.s.documents, id)
		}
	}
	undo.keepDocument(doc.ID, r.s.documents[doc.ID])
	r.s.documents[doc.ID] = cloneDocument(doc)
	return replaced, nil
}

func (r *DocumentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.VerificationDocument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.documents[id]
	if !ok {
		return nil, errors.ErrDocumentNotFound
	}
	return cloneDocument(d), nil
}

func (r *DocumentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.VerificationDocument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.VerificationDocument{}
	for _, d := range r.s.documents {
		if d.OwnerID == userID {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *DocumentRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.DocumentStatus, patch domain.DocumentPatch) (*domain.VerificationDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.documents[id]
	if !ok || d.VerificationStatus != expected {
		return nil, errors.ConcurrentModification("document %s is no longer %s", id, expected)
	}
	undoFrom(ctx).keepDocument(id, cloneDocument(d))
	patch.Apply(d)
	return cloneDocument(d), nil
}

type NotificationRepository struct{ s *Store }

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *n
	c.Payload = cloneMetadata(n.Payload)
	r.s.notifications[n.ID] = &c
	return nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return nil, errors.ErrNotificationNotFound
	}
	c := *n
	c.Payload = cloneMetadata(n.Payload)
	return &c, nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter domain.NotificationFilter) ([]*domain.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.Notification{}
	for _, n := range r.s.notifications {
		if n.UserID != userID || (filter.UnreadOnly && n.IsRead) {
			continue
		}
		c := *n
		c.Payload = cloneMetadata(n.Payload)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return window(out, filter.Limit, filter.Offset), nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok || n.UserID != userID {
		return errors.ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

type AuditRepository struct{ s *Store }

func (r *AuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *log
	c.Details = cloneMetadata(log.Details)
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	matched := r.match(filter)
	// newest first
	out := make([]*domain.AuditLog, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		out = append(out, matched[i])
	}
	return window(out, filter.Limit, filter.Offset), nil
}

func (r *AuditRepository) Count(ctx context.Context, filter domain.AuditFilter) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.match(filter)), nil
}

func (r *AuditRepository) match(filter domain.AuditFilter) []*domain.AuditLog {
	var out []*domain.AuditLog
	for _, a := range r.s.audit {
		if filter.TargetType != "" && a.TargetType != filter.TargetType {
			continue
		}
		if filter.TargetID != nil && a.TargetID != *filter.TargetID {
			continue
		}
		if filter.ActorID != nil && a.ActorID != *filter.ActorID {
			continue
		}
		c := *a
		c.Details = cloneMetadata(a.Details)
		out = append(out, &c)
	}
	return out
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneListing(l *domain.Listing) *domain.Listing {
	c := *l
	if l.ReviewedAt != nil {
		t := *l.ReviewedAt
		c.ReviewedAt = &t
	}
	if l.ReviewedBy != nil {
		id := *l.ReviewedBy
		c.ReviewedBy = &id
	}
	if l.RejectionReason != nil {
		r := *l.RejectionReason
		c.RejectionReason = &r
	}
	return &c
}

func cloneDocument(d *domain.VerificationDocument) *domain.VerificationDocument {
	c := *d
	if d.ReviewedAt != nil {
		t := *d.ReviewedAt
		c.ReviewedAt = &t
	}
	if d.ReviewedBy != nil {
		id := *d.ReviewedBy
		c.ReviewedBy = &id
	}
	if d.RejectionReason != nil {
		r := *d.RejectionReason
		c.RejectionReason = &r
	}
	return &c
}

func cloneMetadata(m domain.Metadata) domain.Metadata {
	if m == nil {
		return nil
	}
	c := make(domain.Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
