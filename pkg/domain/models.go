package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ModerationStatus controls marketplace visibility of a listing
type ModerationStatus string

const (
	ModerationStatusPending  ModerationStatus = "PENDING"
	ModerationStatusApproved ModerationStatus = "APPROVED"
	ModerationStatusRejected ModerationStatus = "REJECTED"
)

func (s ModerationStatus) Valid() bool {
	switch s {
	case ModerationStatusPending, ModerationStatusApproved, ModerationStatusRejected:
		return true
	}
	return false
}

// InQueue reports whether listings in s belong to the moderation queue.
func (s ModerationStatus) InQueue() bool {
	return s == ModerationStatusPending || s == ModerationStatusRejected
}

// Priority is the moderation queue ranking hint
type Priority string

const (
	PriorityNone   Priority = "NONE"
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Rank orders priorities; NONE sorts below LOW.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Listing represents a marketplace listing submitted for moderation
type Listing struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	OwnerID           uuid.UUID        `json:"owner_id" db:"owner_id"`
	Title             string           `json:"title" db:"title"`
	Location          string           `json:"location" db:"location"`
	Price             decimal.Decimal  `json:"price" db:"price"`
	MediaCount        int              `json:"media_count" db:"media_count"`
	HasLegalDocuments bool             `json:"has_legal_documents" db:"has_legal_documents"`
	ModerationStatus  ModerationStatus `json:"moderation_status" db:"moderation_status"`
	ExplicitPriority  Priority         `json:"explicit_priority" db:"explicit_priority"`
	IsActive          bool             `json:"is_active" db:"is_active"`
	IsFeatured        bool             `json:"is_featured" db:"is_featured"`
	SubmittedAt       time.Time        `json:"submitted_at" db:"submitted_at"`
	ReviewedAt        *time.Time       `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewedBy        *uuid.UUID       `json:"reviewed_by,omitempty" db:"reviewed_by"`
	RejectionReason   *string          `json:"rejection_reason,omitempty" db:"rejection_reason"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

var (
	errApprovedInactive  = errors.New("approved listing must be active")
	errRejectedActive    = errors.New("rejected listing must not be active")
	errRejectedNoReason  = errors.New("rejected listing requires a rejection reason")
	errReasonNotRejected = errors.New("rejection reason set on a listing that is not rejected")
	errUnknownStatus     = errors.New("unknown moderation status")
)

// CheckInvariants reports the first moderation invariant the listing violates.
func (l *Listing) CheckInvariants() error {
	switch l.ModerationStatus {
	case ModerationStatusApproved:
		if !l.IsActive {
			return errApprovedInactive
		}
	case ModerationStatusRejected:
		if l.IsActive {
			return errRejectedActive
		}
		if l.RejectionReason == nil || strings.TrimSpace(*l.RejectionReason) == "" {
			return errRejectedNoReason
		}
		return nil
	case ModerationStatusPending:
	default:
		return errUnknownStatus
	}
	if l.RejectionReason != nil {
		return errReasonNotRejected
	}
	return nil
}

// ListingPatch is the set of moderation fields written by one conditional update.
// Nil pointers leave the column untouched; ClearReview resets the review columns.
type ListingPatch struct {
	ModerationStatus ModerationStatus
	IsActive         bool
	IsFeatured       *bool
	ReviewedAt       *time.Time
	ReviewedBy       *uuid.UUID
	RejectionReason  *string
	ClearReview      bool
}

// Apply writes the patch onto l.
func (p *ListingPatch) Apply(l *Listing, now time.Time) {
	l.ModerationStatus = p.ModerationStatus
	l.IsActive = p.IsActive
	if p.IsFeatured != nil {
		l.IsFeatured = *p.IsFeatured
	}
	if p.ClearReview {
		l.ReviewedAt = nil
		l.ReviewedBy = nil
	} else {
		if p.ReviewedAt != nil {
			t := *p.ReviewedAt
			l.ReviewedAt = &t
		}
		if p.ReviewedBy != nil {
			id := *p.ReviewedBy
			l.ReviewedBy = &id
		}
	}
	if p.ModerationStatus == ModerationStatusRejected {
		if p.RejectionReason != nil {
			r := *p.RejectionReason
			l.RejectionReason = &r
		}
	} else {
		l.RejectionReason = nil
	}
	l.UpdatedAt = now
}

// VerificationLevel is the user's trust tier
type VerificationLevel string

const (
	VerificationLevelNone         VerificationLevel = "NONE"
	VerificationLevelPartial      VerificationLevel = "PARTIAL"
	VerificationLevelVerified     VerificationLevel = "VERIFIED"
	VerificationLevelFullVerified VerificationLevel = "FULL_VERIFIED"
)

// Rank orders verification levels from NONE (0) to FULL_VERIFIED (3).
func (v VerificationLevel) Rank() int {
	switch v {
	case VerificationLevelFullVerified:
		return 3
	case VerificationLevelVerified:
		return 2
	case VerificationLevelPartial:
		return 1
	}
	return 0
}

// AtLeastVerified reports whether the level is VERIFIED or FULL_VERIFIED.
func (v VerificationLevel) AtLeastVerified() bool {
	return v.Rank() >= VerificationLevelVerified.Rank()
}

type KYCStatus string

const (
	KYCStatusPending    KYCStatus = "pending"
	KYCStatusProcessing KYCStatus = "processing"
	KYCStatusVerified   KYCStatus = "verified"
	KYCStatusRejected   KYCStatus = "rejected"
)

// User represents a marketplace user as seen by the moderation engine
type User struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	DisplayName       string            `json:"display_name" db:"display_name"`
	Email             string            `json:"email" db:"email"`
	VerificationLevel VerificationLevel `json:"verification_level" db:"verification_level"`
	IsVerified        bool              `json:"is_verified" db:"is_verified"`
	KYCStatus         KYCStatus         `json:"kyc_status" db:"kyc_status"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// UserPatch carries the trust fields the ledger persists.
type UserPatch struct {
	VerificationLevel VerificationLevel
	IsVerified        bool
	KYCStatus         KYCStatus
}

type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "PENDING"
	DocumentStatusApproved DocumentStatus = "APPROVED"
	DocumentStatusRejected DocumentStatus = "REJECTED"
)

// VerificationDocument is one identity document submitted by a user
type VerificationDocument struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	OwnerID            uuid.UUID      `json:"owner_id" db:"owner_id"`
	DocumentType       string         `json:"document_type" db:"document_type"`
	VerificationStatus DocumentStatus `json:"verification_status" db:"verification_status"`
	SubmittedAt        time.Time      `json:"submitted_at" db:"submitted_at"`
	ReviewedAt         *time.Time     `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewedBy         *uuid.UUID     `json:"reviewed_by,omitempty" db:"reviewed_by"`
	RejectionReason    *string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// DocumentPatch is the review outcome written by one conditional update.
type DocumentPatch struct {
	VerificationStatus DocumentStatus
	ReviewedAt         time.Time
	ReviewedBy         uuid.UUID
	RejectionReason    *string
}

// Apply writes the patch onto d.
func (p *DocumentPatch) Apply(d *VerificationDocument) {
	reviewedAt := p.ReviewedAt
	reviewedBy := p.ReviewedBy
	d.VerificationStatus = p.VerificationStatus
	d.ReviewedAt = &reviewedAt
	d.ReviewedBy = &reviewedBy
	d.RejectionReason = nil
	if p.RejectionReason != nil {
		r := *p.RejectionReason
		d.RejectionReason = &r
	}
	d.UpdatedAt = reviewedAt
}

type AuditAction string

const (
	AuditActionApproveProperty     AuditAction = "APPROVE_PROPERTY"
	AuditActionRejectProperty      AuditAction = "REJECT_PROPERTY"
	AuditActionSetPropertyPriority AuditAction = "SET_PROPERTY_PRIORITY"
	AuditActionResetPropertyReview AuditAction = "RESET_PROPERTY_REVIEW"
	AuditActionVerifyUserKYC       AuditAction = "VERIFY_USER_KYC"
	AuditActionSubmitKYCDocument   AuditAction = "SUBMIT_KYC_DOCUMENT"
	AuditActionRecomputeTrustTier  AuditAction = "RECOMPUTE_TRUST_TIER"
)

const (
	TargetTypeListing  = "listing"
	TargetTypeDocument = "verification_document"
	TargetTypeUser     = "user"
)

// AuditLog is an append-only record of an administrative action
type AuditLog struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Action     AuditAction `json:"action" db:"action"`
	ActorID    uuid.UUID   `json:"actor_id" db:"actor_id"`
	TargetType string      `json:"target_type" db:"target_type"`
	TargetID   uuid.UUID   `json:"target_id" db:"target_id"`
	Details    Metadata    `json:"details" db:"details"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

type NotificationType string

const (
	NotificationPropertyApproved NotificationType = "PROPERTY_APPROVED"
	NotificationPropertyRejected NotificationType = "PROPERTY_REJECTED"
	NotificationKYCApproved      NotificationType = "KYC_APPROVED"
	NotificationKYCRejected      NotificationType = "KYC_REJECTED"
)

// Notification is an in-app message owned by the notified user
type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    uuid.UUID        `json:"user_id" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Payload   Metadata         `json:"payload" db:"payload"`
	IsRead    bool             `json:"is_read" db:"is_read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// Metadata is a JSON-compatible map
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// StatusCount is one row of the moderation queue statistics
type StatusCount struct {
	Status ModerationStatus `json:"status" db:"moderation_status"`
	Count  int              `json:"count" db:"count"`
}
