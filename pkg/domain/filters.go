package domain

import (
	"strings"

	"github.com/google/uuid"
)

// OwnerVerification narrows the queue by the owner's trust tier
type OwnerVerification string

const (
	OwnerVerificationAny        OwnerVerification = ""
	OwnerVerificationVerified   OwnerVerification = "verified"
	OwnerVerificationUnverified OwnerVerification = "unverified"
)

// QueryFilter selects listings for the moderation queue. The zero value
// selects every PENDING and REJECTED listing.
type QueryFilter struct {
	Statuses          []ModerationStatus
	ExplicitPriority  *Priority
	OwnerVerification OwnerVerification
	Search            string
}

// EffectiveStatuses returns the statuses to match, defaulting to the queue view.
func (f QueryFilter) EffectiveStatuses() []ModerationStatus {
	if len(f.Statuses) == 0 {
		return []ModerationStatus{ModerationStatusPending, ModerationStatusRejected}
	}
	return f.Statuses
}

// SearchTerm returns the lower-cased, trimmed free text term.
func (f QueryFilter) SearchTerm() string {
	return strings.ToLower(strings.TrimSpace(f.Search))
}

// AuditFilter selects audit records for browsing.
type AuditFilter struct {
	TargetType string
	TargetID   *uuid.UUID
	ActorID    *uuid.UUID
	Limit      int
	Offset     int
}

// NotificationFilter selects one user's notifications.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
