// Package domain re-exports core domain types so internal code can import
// `marketmod/internal/domain` while using definitions from `marketmod/pkg/domain`.
package domain

import pkg "marketmod/pkg/domain"

// Listing represents a marketplace listing under moderation.
type Listing = pkg.Listing

// ListingPatch is a conditional update of a listing's moderation fields.
type ListingPatch = pkg.ListingPatch

// ModerationStatus is the listing lifecycle tag.
type ModerationStatus = pkg.ModerationStatus

// Priority is the moderation queue ranking hint.
type Priority = pkg.Priority

// User represents a marketplace user.
type User = pkg.User

// UserPatch carries trust tier fields.
type UserPatch = pkg.UserPatch

// VerificationLevel is the user trust tier.
type VerificationLevel = pkg.VerificationLevel

// KYCStatus represents the KYC state of a user.
type KYCStatus = pkg.KYCStatus

// VerificationDocument is an identity document under review.
type VerificationDocument = pkg.VerificationDocument

// DocumentPatch is a document review outcome.
type DocumentPatch = pkg.DocumentPatch

// DocumentStatus is the document review state.
type DocumentStatus = pkg.DocumentStatus

// AuditLog is an append-only audit record.
type AuditLog = pkg.AuditLog

// AuditAction tags an audit record.
type AuditAction = pkg.AuditAction

// Notification is an in-app notification.
type Notification = pkg.Notification

// NotificationType tags a notification.
type NotificationType = pkg.NotificationType

// Metadata holds arbitrary key-value metadata.
type Metadata = pkg.Metadata

// StatusCount is a moderation status histogram row.
type StatusCount = pkg.StatusCount

// Re-exported moderation statuses.
const (
	ModerationStatusPending  = pkg.ModerationStatusPending
	ModerationStatusApproved = pkg.ModerationStatusApproved
	ModerationStatusRejected = pkg.ModerationStatusRejected
)

// Re-exported priorities.
const (
	PriorityNone   = pkg.PriorityNone
	PriorityLow    = pkg.PriorityLow
	PriorityMedium = pkg.PriorityMedium
	PriorityHigh   = pkg.PriorityHigh
)

// Re-exported verification levels.
const (
	VerificationLevelNone         = pkg.VerificationLevelNone
	VerificationLevelPartial      = pkg.VerificationLevelPartial
	VerificationLevelVerified     = pkg.VerificationLevelVerified
	VerificationLevelFullVerified = pkg.VerificationLevelFullVerified
)

// Re-exported KYC statuses.
const (
	KYCStatusPending    = pkg.KYCStatusPending
	KYCStatusProcessing = pkg.KYCStatusProcessing
	KYCStatusVerified   = pkg.KYCStatusVerified
	KYCStatusRejected   = pkg.KYCStatusRejected
)

// Re-exported document statuses.
const (
	DocumentStatusPending  = pkg.DocumentStatusPending
	DocumentStatusApproved = pkg.DocumentStatusApproved
	DocumentStatusRejected = pkg.DocumentStatusRejected
)

// Re-exported audit actions.
const (
	AuditActionApproveProperty     = pkg.AuditActionApproveProperty
	AuditActionRejectProperty      = pkg.AuditActionRejectProperty
	AuditActionSetPropertyPriority = pkg.AuditActionSetPropertyPriority
	AuditActionResetPropertyReview = pkg.AuditActionResetPropertyReview
	AuditActionVerifyUserKYC       = pkg.AuditActionVerifyUserKYC
	AuditActionSubmitKYCDocument   = pkg.AuditActionSubmitKYCDocument
	AuditActionRecomputeTrustTier  = pkg.AuditActionRecomputeTrustTier
)

// Re-exported audit target types.
const (
	TargetTypeListing  = pkg.TargetTypeListing
	TargetTypeDocument = pkg.TargetTypeDocument
	TargetTypeUser     = pkg.TargetTypeUser
)

// Re-exported notification types.
const (
	NotificationPropertyApproved = pkg.NotificationPropertyApproved
	NotificationPropertyRejected = pkg.NotificationPropertyRejected
	NotificationKYCApproved      = pkg.NotificationKYCApproved
	NotificationKYCRejected      = pkg.NotificationKYCRejected
)

// QueryFilter selects listings for the moderation queue.
type QueryFilter = pkg.QueryFilter

// OwnerVerification narrows the queue by owner trust tier.
type OwnerVerification = pkg.OwnerVerification

// AuditFilter selects audit records.
type AuditFilter = pkg.AuditFilter

// NotificationFilter selects a user's notifications.
type NotificationFilter = pkg.NotificationFilter

// Re-exported owner verification filters.
const (
	OwnerVerificationAny        = pkg.OwnerVerificationAny
	OwnerVerificationVerified   = pkg.OwnerVerificationVerified
	OwnerVerificationUnverified = pkg.OwnerVerificationUnverified
)
