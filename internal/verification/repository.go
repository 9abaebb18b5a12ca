package verification

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simplement/accounts/internal/shared"
)

// Repository is the persistence surface of the gate.
type Repository interface {
	GetAccount(ctx context.Context, id int64) (*Account, error)
	// GrantLevel persists a full replacement mask; callers OR the new bit
	// into the current mask so other bits survive. clearPending nulls the
	// single-use email secret in the same statement.
	GrantLevel(ctx context.Context, id int64, mask Level, clearPending bool) error
	SetPendingEmailHash(ctx context.Context, id int64, hash string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetAccount fetches the verification view of a non-deleted user.
func (r *PGRepository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	var (
		acc       Account
		verified  int64
		pending   pgtype.Text
		createdAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, role, verified, email_verification_hash, created_at
		 FROM users WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&acc.ID, &acc.Email, &acc.FirstName, &acc.LastName, &acc.Role, &verified, &pending, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	acc.Verified = Level(verified)
	if pending.Valid {
		hash := pending.String
		acc.PendingEmailHash = &hash
	}
	acc.CreatedAt = createdAt.Time
	return &acc, nil
}

// GrantLevel writes the new mask and optionally consumes the pending
// email secret.
func (r *PGRepository) GrantLevel(ctx context.Context, id int64, mask Level, clearPending bool) error {
	query := `UPDATE users SET verified = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	if clearPending {
		query = `UPDATE users SET verified = $2, email_verification_hash = NULL, updated_at = now()
		         WHERE id = $1 AND deleted_at IS NULL`
	}
	tag, err := r.pool.Exec(ctx, query, id, int64(mask))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetPendingEmailHash stores a fresh single-use verification secret.
func (r *PGRepository) SetPendingEmailHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET email_verification_hash = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
