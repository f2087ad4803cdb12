package postgres

import (
	"context"
	"database/sql"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DocumentRepository persists verification documents.
type DocumentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Submit stores a fresh PENDING document, replacing the owner's previous
// PENDING or REJECTED document of the same type. Approved documents stay.
func (r *DocumentRepository) Submit(ctx context.Context, doc *domain.VerificationDocument) ([]uuid.UUID, error) {
	var replaced []uuid.UUID
	err := NewTransactor(r.db).WithTransaction(ctx, func(ctx context.Context) error {
		q := connFor(ctx, r.db)
		err := q.SelectContext(ctx, &replaced, `
			DELETE FROM marketplace_schema.verification_documents
			WHERE owner_id = $1 AND document_type = $2
			  AND verification_status IN ('PENDING', 'REJECTED')
			RETURNING id
		`, doc.OwnerID, doc.DocumentType)
		if err != nil {
			return errors.Wrap(err, "failed to replace previous document")
		}

		_, err = q.NamedExecContext(ctx, `
			INSERT INTO marketplace_schema.verification_documents (
				id, owner_id, document_type, verification_status,
				submitted_at, reviewed_at, reviewed_by, rejection_reason, updated_at
			) VALUES (
				:id, :owner_id, :document_type, :verification_status,
				:submitted_at, :reviewed_at, :reviewed_by, :rejection_reason, :updated_at
			)
		`, doc)
		return errors.Wrap(err, "failed to insert document")
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

func (r *DocumentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.VerificationDocument, error) {
	doc := &domain.VerificationDocument{}
	query := `SELECT * FROM marketplace_schema.verification_documents WHERE id = $1`
	err := connFor(ctx, r.db).GetContext(ctx, doc, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrDocumentNotFound
		}
		return nil, errors.Wrap(err, "failed to find document")
	}
	return doc, nil
}

func (r *DocumentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.VerificationDocument, error) {
	var docs []*domain.VerificationDocument
	query := `
		SELECT * FROM marketplace_schema.verification_documents
		WHERE owner_id = $1
		ORDER BY submitted_at ASC, id ASC
	`
	if err := connFor(ctx, r.db).SelectContext(ctx, &docs, query, userID); err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	return docs, nil
}

// ConditionalUpdate records a review outcome only while the document is still
// in the expected status.
func (r *DocumentRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.DocumentStatus, patch domain.DocumentPatch) (*domain.VerificationDocument, error) {
	query := `
		UPDATE marketplace_schema.verification_documents SET
			verification_status = $3,
			reviewed_at = $4,
			reviewed_by = $5,
			rejection_reason = $6,
			updated_at = $4
		WHERE id = $1 AND verification_status = $2
		RETURNING *
	`
	doc := &domain.VerificationDocument{}
	err := connFor(ctx, r.db).GetContext(ctx, doc, query,
		id, string(expected), string(patch.VerificationStatus), patch.ReviewedAt, patch.ReviewedBy, patch.RejectionReason)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ConcurrentModification("document %s is no longer %s", id, expected)
		}
		return nil, errors.Wrap(err, "failed to update document verification status")
	}
	return doc, nil
}
