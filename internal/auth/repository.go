package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simplement/accounts/internal/shared"
)

var (
	// ErrDuplicateToken signals the issuance unique index rejected a
	// candidate secret; callers retry with a fresh one.
	ErrDuplicateToken = errors.New("auth: remember token already active")
	// ErrDuplicateEmail signals the users email unique index fired during
	// signup; the service maps it to the generic authentication error.
	ErrDuplicateEmail = errors.New("auth: email already registered")
)

// CreateUserInput carries the column values for a new user row.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Role         Role
}

// Repository is the persistence surface the authenticator consumes:
// user lookups plus the login_log ledger operations.
type Repository interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, input CreateUserInput) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error

	CreateLoginEntry(ctx context.Context, userID int64, meta RequestMeta) (*LoginEntry, error)
	FindEntryByID(ctx context.Context, id int64) (*LoginEntry, error)
	FindByRememberHash(ctx context.Context, hash, userAgent string, now time.Time) (*LoginEntry, error)
	ConsumeToken(ctx context.Context, hash, userAgent string, now time.Time) (*LoginEntry, error)
	IssueToken(ctx context.Context, entryID int64, hash string, validTill time.Time) error
	ClearToken(ctx context.Context, entryID int64) error
	ListLoginHistory(ctx context.Context, userID int64, limit int) ([]LoginEntry, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, verified, email_verification_hash, created_at, updated_at, deleted_at`

// FindUserByEmail fetches a non-deleted user by exact (normalized) email.
func (r *PGRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND deleted_at IS NULL`, email)
	return scanUser(row)
}

// FindUserByID fetches a non-deleted user by primary key.
func (r *PGRepository) FindUserByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanUser(row)
}

// EmailTaken reports whether any user row, soft-deleted included, holds
// the email. The missing deleted_at filter is deliberate: an address that
// ever belonged to an account never becomes available again.
func (r *PGRepository) EmailTaken(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CreateUser inserts a new user row and returns it.
func (r *PGRepository) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, phone, role)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		input.Email, input.PasswordHash, input.FirstName, input.LastName, input.Phone, string(input.Role))
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// UpdatePasswordHash replaces the stored credential hash.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const entryColumns = `id, user_id, created_at, remote_addr, forwarded_for, user_agent, remember_hash, valid_till`

// CreateLoginEntry inserts one ledger row for a successful login.
func (r *PGRepository) CreateLoginEntry(ctx context.Context, userID int64, meta RequestMeta) (*LoginEntry, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO login_log (user_id, remote_addr, forwarded_for, user_agent)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		 RETURNING `+entryColumns,
		userID, meta.RemoteAddr, meta.ForwardedFor, meta.UserAgent)
	return scanEntry(row)
}

// FindEntryByID fetches a ledger row by primary key.
func (r *PGRepository) FindEntryByID(ctx context.Context, id int64) (*LoginEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM login_log WHERE id = $1`, id)
	return scanEntry(row)
}

// FindByRememberHash returns the unexpired ledger row holding hash, owned
// by a non-deleted user. The user agent constrains the match only when
// the caller supplies one.
func (r *PGRepository) FindByRememberHash(ctx context.Context, hash, userAgent string, now time.Time) (*LoginEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT l.id, l.user_id, l.created_at, l.remote_addr, l.forwarded_for, l.user_agent, l.remember_hash, l.valid_till
		 FROM login_log l
		 JOIN users u ON u.id = l.user_id
		 WHERE l.remember_hash = $1
		   AND l.valid_till > $2
		   AND u.deleted_at IS NULL
		   AND ($3 = '' OR l.user_agent = $3)`,
		hash, now, userAgent)
	return scanEntry(row)
}

// ConsumeToken atomically clears the token on the matching unexpired row
// and returns it. A single conditional UPDATE guarantees at most one
// concurrent request consumes a given secret; losers get ErrNotFound.
func (r *PGRepository) ConsumeToken(ctx context.Context, hash, userAgent string, now time.Time) (*LoginEntry, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE login_log l
		 SET remember_hash = NULL, valid_till = NULL
		 FROM users u
		 WHERE l.remember_hash = $1
		   AND l.valid_till > $2
		   AND u.id = l.user_id
		   AND u.deleted_at IS NULL
		   AND ($3 = '' OR l.user_agent = $3)
		 RETURNING l.id, l.user_id, l.created_at, l.remote_addr, l.forwarded_for, l.user_agent, NULL::text, NULL::timestamptz`,
		hash, now, userAgent)
	return scanEntry(row)
}

// IssueToken stores a fresh secret and expiry on the ledger row. The
// partial unique index on remember_hash turns a colliding candidate into
// ErrDuplicateToken for the caller's bounded retry.
func (r *PGRepository) IssueToken(ctx context.Context, entryID int64, hash string, validTill time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE login_log SET remember_hash = $2, valid_till = $3 WHERE id = $1`,
		entryID, hash, validTill)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ClearToken revokes the outstanding token, nulling hash and expiry
// together.
func (r *PGRepository) ClearToken(ctx context.Context, entryID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE login_log SET remember_hash = NULL, valid_till = NULL WHERE id = $1`,
		entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListLoginHistory returns the newest ledger rows for a user. Rows are
// never deleted, so this is the login audit trail.
func (r *PGRepository) ListLoginHistory(ctx context.Context, userID int64, limit int) ([]LoginEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM login_log WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LoginEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		role      string
		verified  int64
		emailHash pgtype.Text
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
		deletedAt pgtype.Timestamptz
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone,
		&role, &verified, &emailHash, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	u.Verified = uint32(verified)
	if emailHash.Valid {
		hash := emailHash.String
		u.EmailVerificationHash = &hash
	}
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

func scanEntry(row rowScanner) (*LoginEntry, error) {
	var (
		e            LoginEntry
		createdAt    pgtype.Timestamptz
		remoteAddr   pgtype.Text
		forwardedFor pgtype.Text
		userAgent    pgtype.Text
		rememberHash pgtype.Text
		validTill    pgtype.Timestamptz
	)
	err := row.Scan(&e.ID, &e.UserID, &createdAt, &remoteAddr, &forwardedFor, &userAgent, &rememberHash, &validTill)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	e.CreatedAt = createdAt.Time
	e.RemoteAddr = remoteAddr.String
	e.ForwardedFor = forwardedFor.String
	e.UserAgent = userAgent.String
	if rememberHash.Valid {
		hash := rememberHash.String
		e.RememberHash = &hash
	}
	if validTill.Valid {
		t := validTill.Time
		e.ValidTill = &t
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
