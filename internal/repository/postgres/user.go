package postgres

import (
	"context"
	"database/sql"
	"time"

	"marketmod/internal/domain"
	"marketmod/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const userColumns = `
	id, display_name, email, verification_level, is_verified, kyc_status, created_at, updated_at`

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO marketplace_schema.users (` + userColumns + `)
		VALUES (
			:id, :display_name, :email, :verification_level, :is_verified, :kyc_status, :created_at, :updated_at
		)
	`
	_, err := connFor(ctx, r.db).NamedExecContext(ctx, query, user)
	return errors.Wrap(err, "failed to create user")
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user := &domain.User{}
	query := `SELECT ` + userColumns + ` FROM marketplace_schema.users WHERE id = $1`
	err := connFor(ctx, r.db).GetContext(ctx, user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to find user")
	}
	return user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user := &domain.User{}
	query := `SELECT ` + userColumns + ` FROM marketplace_schema.users WHERE email = $1 LIMIT 1`
	err := connFor(ctx, r.db).GetContext(ctx, user, query, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to find user by email")
	}
	return user, nil
}

// FindByIDs returns the users that exist; unknown ids are silently absent.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}
	var users []*domain.User
	query, args, err := sqlx.In(`
		SELECT `+userColumns+`
		FROM marketplace_schema.users
		WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build query")
	}
	query = connFor(ctx, r.db).Rebind(query)

	err = connFor(ctx, r.db).SelectContext(ctx, &users, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch users by ids")
	}
	return users, nil
}

// Update writes the trust tier fields.
func (r *UserRepository) Update(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (*domain.User, error) {
	query := `
		UPDATE marketplace_schema.users SET
			verification_level = $2,
			is_verified = $3,
			kyc_status = $4,
			updated_at = $5
		WHERE id = $1
		RETURNING ` + userColumns
	user := &domain.User{}
	err := connFor(ctx, r.db).GetContext(ctx, user, query,
		id, string(patch.VerificationLevel), patch.IsVerified, string(patch.KYCStatus), time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to update user")
	}
	return user, nil
}

// ListIDs pages through user ids in id order, starting after the given id.
func (r *UserRepository) ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `
		SELECT id FROM marketplace_schema.users
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`
	if err := connFor(ctx, r.db).SelectContext(ctx, &ids, query, after, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list user ids")
	}
	return ids, nil
}
