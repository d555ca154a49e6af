package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
)

// PrincipalRepo implements PrincipalRepository using PostgreSQL.
type PrincipalRepo struct{ db *DB }

// NewPrincipalRepo constructs a principal repository.
func NewPrincipalRepo(db *DB) *PrincipalRepo { return &PrincipalRepo{db: db} }

const principalCols = `id, username, email, pwd_hash, salt_auth, roles, version, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*model.Principal, error) {
	var p model.Principal
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PwdHash, &p.SaltAuth, &p.Roles, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Create inserts a new principal row with version 0.
func (r *PrincipalRepo) Create(ctx context.Context, p *model.Principal) error {
	const q = `
INSERT INTO principals (id, username, email, pwd_hash, salt_auth, roles)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, p.ID, p.Username, p.Email, p.PwdHash, p.SaltAuth, p.Roles)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a principal by ID.
func (r *PrincipalRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error) {
	const q = `SELECT ` + principalCols + ` FROM principals WHERE id=$1`
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByLogin selects a principal whose username equals login or whose email
// equals login case-insensitively.
func (r *PrincipalRepo) GetByLogin(ctx context.Context, login string) (*model.Principal, error) {
	const q = `SELECT ` + principalCols + ` FROM principals WHERE email=lower($1) OR username=$1 LIMIT 1`
	return scanPrincipal(r.db.Pool.QueryRow(ctx, q, login))
}

// ExistsByUsernameOrEmail reports whether either value is already registered.
func (r *PrincipalRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM principals WHERE username=$1 OR email=$2)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, username, email).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// GetVersion returns the principal's version counter.
func (r *PrincipalRepo) GetVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	const q = `SELECT version FROM principals WHERE id=$1`
	var v int64
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, err
	}
	return v, nil
}

// IncrementVersion bumps version in place and returns the new value.
func (r *PrincipalRepo) IncrementVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	const q = `
UPDATE principals
SET version = version + 1, updated_at = now()
WHERE id = $1
RETURNING version`
	var v int64
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, err
	}
	return v, nil
}
