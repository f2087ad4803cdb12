// ==============================================================================
// VERIFICATION LEDGER - internal/verification/ledger.go
// ==============================================================================
// Document review outcomes and the user trust tier derived from them.
// ==============================================================================

package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"
	"marketmod/pkg/logger"
)

var tracer = otel.Tracer("marketmod/internal/verification")

type DocumentRepository interface {
	Submit(ctx context.Context, doc *domain.VerificationDocument) ([]uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.VerificationDocument, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.VerificationDocument, error)
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.DocumentStatus, patch domain.DocumentPatch) (*domain.VerificationDocument, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error)
}

// Locker serializes trust tier writes for one user. internal/lock provides
// the redis and in-process implementations.
type Locker interface {
	Obtain(ctx context.Context, key string) (func(context.Context) error, error)
}

// Transactor runs fn as one unit of work. Repository calls made with the
// context passed to fn commit or roll back together.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, typ domain.NotificationType, title, message string, payload domain.Metadata) error
}

type Auditor interface {
	Append(ctx context.Context, action domain.AuditAction, actorID uuid.UUID, targetType string, targetID uuid.UUID, details domain.Metadata) error
}

// Outcome is a document review decision.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

func (o Outcome) Valid() bool {
	return o == OutcomeApprove || o == OutcomeReject
}

type Config struct {
	// LegacyIsVerified marks a user verified when any document is approved,
	// regardless of tier.
	LegacyIsVerified bool
}

// ReviewResult is the outcome of ReviewDocument.
type ReviewResult struct {
	Document      *domain.VerificationDocument `json:"document"`
	PreviousLevel domain.VerificationLevel     `json:"previous_level"`
	Level         domain.VerificationLevel     `json:"level"`
	IsVerified    bool                         `json:"is_verified"`
}

const sideEffectTimeout = 5 * time.Second

type Ledger struct {
	documents DocumentRepository
	users     UserRepository
	locker    Locker
	tx        Transactor
	notifier  Notifier
	auditor   Auditor
	cfg       Config
	logger    logger.Logger
	now       func() time.Time
}

func NewLedger(documents DocumentRepository, users UserRepository, locker Locker, notifier Notifier, auditor Auditor, cfg Config, log logger.Logger) *Ledger {
	return &Ledger{
		documents: documents,
		users:     users,
		locker:    locker,
		notifier:  notifier,
		auditor:   auditor,
		cfg:       cfg,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithTransactor makes a document review and the tier write it causes atomic.
// Without one the two writes are issued separately.
func (l *Ledger) WithTransactor(tx Transactor) *Ledger {
	l.tx = tx
	return l
}

// ==============================================================================
// TIER COMPUTATION
// ==============================================================================

// ComputeTier counts approved documents across distinct document types:
// none is NONE, one is PARTIAL, two or more is VERIFIED.
func ComputeTier(docs []*domain.VerificationDocument) domain.VerificationLevel {
	types := make(map[string]bool)
	for _, d := range docs {
		if d.VerificationStatus == domain.DocumentStatusApproved {
			types[d.DocumentType] = true
		}
	}
	switch {
	case len(types) >= 2:
		return domain.VerificationLevelVerified
	case len(types) == 1:
		return domain.VerificationLevelPartial
	default:
		return domain.VerificationLevelNone
	}
}

type tierMode int

const (
	tierRecompute tierMode = iota
	tierApprove
	tierReject
)

// nextLevel applies the persistence rule for mode. FULL_VERIFIED is granted
// outside the ledger and is always kept.
func nextLevel(current, computed domain.VerificationLevel, mode tierMode) domain.VerificationLevel {
	if current == domain.VerificationLevelFullVerified {
		return current
	}
	switch mode {
	case tierApprove:
		if current.Rank() > computed.Rank() {
			return current
		}
	case tierReject:
		if current.Rank() < computed.Rank() {
			return current
		}
	}
	return computed
}

func (l *Ledger) userPatch(level domain.VerificationLevel, docs []*domain.VerificationDocument) domain.UserPatch {
	anyApproved, anyRejected := false, false
	for _, d := range docs {
		switch d.VerificationStatus {
		case domain.DocumentStatusApproved:
			anyApproved = true
		case domain.DocumentStatusRejected:
			anyRejected = true
		}
	}

	isVerified := level.AtLeastVerified()
	if l.cfg.LegacyIsVerified {
		isVerified = isVerified || anyApproved
	}

	kyc := domain.KYCStatusPending
	switch {
	case level.AtLeastVerified():
		kyc = domain.KYCStatusVerified
	case level == domain.VerificationLevelPartial:
		kyc = domain.KYCStatusProcessing
	case anyRejected:
		kyc = domain.KYCStatusRejected
	}

	return domain.UserPatch{VerificationLevel: level, IsVerified: isVerified, KYCStatus: kyc}
}

// ==============================================================================
// OPERATIONS
// ==============================================================================

// RecomputeTrustTier derives the user's tier from their approved documents
// and persists it.
func (l *Ledger) RecomputeTrustTier(ctx context.Context, userID uuid.UUID) (domain.VerificationLevel, error) {
	_, level, err := l.recompute(ctx, userID)
	return level, err
}

// RecomputeTrustTierBy recomputes on behalf of an operator and audits any change.
func (l *Ledger) RecomputeTrustTierBy(ctx context.Context, userID, actorID uuid.UUID) (previous, level domain.VerificationLevel, err error) {
	if actorID == uuid.Nil {
		return "", "", errors.Validation("actor id is required")
	}
	previous, level, err = l.recompute(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if level != previous {
		l.audit(ctx, domain.AuditActionRecomputeTrustTier, actorID, domain.TargetTypeUser, userID, domain.Metadata{
			"previous_level": string(previous),
			"new_level":      string(level),
		})
	}
	return previous, level, nil
}

// recompute reads the stored tier and writes the computed one under the
// user's lock, so previous is the value that was replaced.
func (l *Ledger) recompute(ctx context.Context, userID uuid.UUID) (previous, level domain.VerificationLevel, err error) {
	ctx, span := tracer.Start(ctx, "verification.RecomputeTrustTier")
	defer span.End()

	err = l.withUserLock(ctx, userID, func() error {
		user, err := l.users.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		previous = user.VerificationLevel
		updated, err := l.persistTier(ctx, user, tierRecompute)
		if err != nil {
			return err
		}
		level = updated.VerificationLevel
		return nil
	})
	if err != nil {
		return "", "", endSpan(span, err)
	}
	span.SetAttributes(attribute.String("verification.level", string(level)))
	return previous, level, nil
}

// ReviewDocument records an approve or reject outcome for a PENDING document
// and updates the owner's trust tier.
func (l *Ledger) ReviewDocument(ctx context.Context, docID uuid.UUID, outcome Outcome, reviewerID uuid.UUID, reason string) (*ReviewResult, error) {
	ctx, span := tracer.Start(ctx, "verification.ReviewDocument")
	defer span.End()

	if !outcome.Valid() {
		return nil, endSpan(span, errors.Validation("unknown outcome %q", outcome))
	}
	if reviewerID == uuid.Nil {
		return nil, endSpan(span, errors.Validation("reviewer id is required"))
	}
	reason = strings.TrimSpace(reason)
	if outcome == OutcomeReject && reason == "" {
		return nil, endSpan(span, errors.Validation("a rejection reason is required"))
	}

	doc, err := l.documents.FindByID(ctx, docID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	if doc.VerificationStatus != domain.DocumentStatusPending {
		return nil, endSpan(span, errors.InvalidState("document %s is %s", docID, doc.VerificationStatus))
	}

	result := &ReviewResult{}
	err = l.withUserLock(ctx, doc.OwnerID, func() error {
		user, err := l.users.FindByID(ctx, doc.OwnerID)
		if err != nil {
			return err
		}
		result.PreviousLevel = user.VerificationLevel

		patch := domain.DocumentPatch{
			VerificationStatus: domain.DocumentStatusApproved,
			ReviewedAt:         l.now(),
			ReviewedBy:         reviewerID,
		}
		mode := tierApprove
		if outcome == OutcomeReject {
			patch.VerificationStatus = domain.DocumentStatusRejected
			patch.RejectionReason = &reason
			mode = tierReject
		}

		return l.inTransaction(ctx, func(ctx context.Context) error {
			reviewed, err := l.documents.ConditionalUpdate(ctx, docID, domain.DocumentStatusPending, patch)
			if err != nil {
				return err
			}
			updated, err := l.persistTier(ctx, user, mode)
			if err != nil {
				return err
			}
			result.Document = reviewed
			result.Level = updated.VerificationLevel
			result.IsVerified = updated.IsVerified
			return nil
		})
	})
	if err != nil {
		return nil, endSpan(span, err)
	}

	l.afterReview(ctx, result, outcome, reviewerID, reason)

	l.logger.Info("Verification document reviewed", map[string]interface{}{
		"document_id":    docID,
		"user_id":        doc.OwnerID,
		"outcome":        outcome,
		"previous_level": result.PreviousLevel,
		"level":          result.Level,
	})
	return result, nil
}

// SubmitDocument files a new PENDING document for the user. A previous
// PENDING or REJECTED document of the same type is replaced.
func (l *Ledger) SubmitDocument(ctx context.Context, userID uuid.UUID, documentType string) (*domain.VerificationDocument, error) {
	documentType = strings.ToLower(strings.TrimSpace(documentType))
	if documentType == "" {
		return nil, errors.Validation("document type is required")
	}
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}

	now := l.now()
	doc := &domain.VerificationDocument{
		ID:                 uuid.New(),
		OwnerID:            userID,
		DocumentType:       documentType,
		VerificationStatus: domain.DocumentStatusPending,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}
	replaced, err := l.documents.Submit(ctx, doc)
	if err != nil {
		return nil, err
	}

	replacedIDs := make([]string, 0, len(replaced))
	for _, id := range replaced {
		replacedIDs = append(replacedIDs, id.String())
	}
	l.audit(ctx, domain.AuditActionSubmitKYCDocument, userID, domain.TargetTypeDocument, doc.ID, domain.Metadata{
		"document_type": documentType,
		"replaced":      replacedIDs,
	})
	l.logger.Info("Verification document submitted", map[string]interface{}{
		"document_id":   doc.ID,
		"user_id":       userID,
		"document_type": documentType,
		"replaced":      len(replaced),
	})
	return doc, nil
}

// ListDocuments returns the user's documents in submission order.
func (l *Ledger) ListDocuments(ctx context.Context, userID uuid.UUID) ([]*domain.VerificationDocument, error) {
	return l.documents.ListByUser(ctx, userID)
}

func (l *Ledger) persistTier(ctx context.Context, user *domain.User, mode tierMode) (*domain.User, error) {
	docs, err := l.documents.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	level := nextLevel(user.VerificationLevel, ComputeTier(docs), mode)
	return l.users.Update(ctx, user.ID, l.userPatch(level, docs))
}

func (l *Ledger) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.tx == nil {
		return fn(ctx)
	}
	return l.tx.WithTransaction(ctx, fn)
}

func (l *Ledger) withUserLock(ctx context.Context, userID uuid.UUID, fn func() error) error {
	if l.locker == nil {
		return fn()
	}
	release, err := l.locker.Obtain(ctx, "trust-tier:"+userID.String())
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		if err := release(rctx); err != nil {
			l.logger.Warn("Trust tier lock release failed", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}()
	return fn()
}

func (l *Ledger) afterReview(ctx context.Context, result *ReviewResult, outcome Outcome, reviewerID uuid.UUID, reason string) {
	doc := result.Document
	payload := domain.Metadata{
		"document_id":   doc.ID.String(),
		"document_type": doc.DocumentType,
		"level":         string(result.Level),
	}
	details := domain.Metadata{
		"user_id":        doc.OwnerID.String(),
		"document_type":  doc.DocumentType,
		"outcome":        string(outcome),
		"previous_level": string(result.PreviousLevel),
		"new_level":      string(result.Level),
	}

	typ := domain.NotificationKYCApproved
	title := "Document approved"
	message := fmt.Sprintf("Your %s document has been approved.", doc.DocumentType)
	if outcome == OutcomeReject {
		typ = domain.NotificationKYCRejected
		title = "Document rejected"
		message = fmt.Sprintf("Your %s document was rejected: %s", doc.DocumentType, reason)
		payload["reason"] = reason
		details["reason"] = reason
	}

	l.notify(ctx, doc.OwnerID, typ, title, message, payload)
	l.audit(ctx, domain.AuditActionVerifyUserKYC, reviewerID, domain.TargetTypeDocument, doc.ID, details)
}

func (l *Ledger) notify(ctx context.Context, userID uuid.UUID, typ domain.NotificationType, title, message string, payload domain.Metadata) {
	if l.notifier == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := l.notifier.Send(sctx, userID, typ, title, message, payload); err != nil {
		l.logger.Error("Notification send failed", map[string]interface{}{
			"error":   errors.SideEffect(err, "notification").Error(),
			"type":    typ,
			"user_id": userID,
		})
	}
}

func (l *Ledger) audit(ctx context.Context, action domain.AuditAction, actorID uuid.UUID, targetType string, targetID uuid.UUID, details domain.Metadata) {
	if l.auditor == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := l.auditor.Append(sctx, action, actorID, targetType, targetID, details); err != nil {
		l.logger.Error("Audit append failed", map[string]interface{}{
			"error":     errors.SideEffect(err, "audit").Error(),
			"action":    action,
			"target_id": targetID,
		})
	}
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
