package taskstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

// UserRepository backs the auth service: register/login only, no
// further user-management surface.
type UserRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toDomain() (*domain.User, error) {
	id, err := idgen.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	return &domain.User{
		ID:           id,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
	}, nil
}

// Create persists a new User. A duplicate email surfaces as InvalidInput
// ("400 duplicate/weak"), not a raw constraint-violation message.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	const q = `INSERT INTO users (id, email, password_hash, active, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, q, u.ID.String(), u.Email, u.PasswordHash, u.Active, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewInvalidInput("an account with this email already exists")
		}
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "insert user")
	}
	return nil
}

// GetByEmail returns the user with the given email, or NotFound.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const q = `SELECT id, email, password_hash, active, created_at FROM users WHERE email = $1`
	var row userRow
	if err := r.db.GetContext(ctx, &row, q, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("user")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "get user by email")
	}
	return row.toDomain()
}

// Get returns the user with the given id, or NotFound.
func (r *UserRepository) Get(ctx context.Context, id idgen.ID) (*domain.User, error) {
	const q = `SELECT id, email, password_hash, active, created_at FROM users WHERE id = $1`
	var row userRow
	if err := r.db.GetContext(ctx, &row, q, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("user")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "get user")
	}
	return row.toDomain()
}

// isUniqueViolation matches Postgres's unique_violation SQLSTATE
// (23505) without importing the full pgconn error type, since the
// sqlmock-backed unit tests never exercise a real driver error.
func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	if pgErr, ok := err.(sqlStater); ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}
