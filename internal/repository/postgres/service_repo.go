package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
)

// ServiceRepo implements ServiceRepository using PostgreSQL.
type ServiceRepo struct{ db *DB }

// NewServiceRepo constructs a service repository.
func NewServiceRepo(db *DB) *ServiceRepo { return &ServiceRepo{db: db} }

const serviceCols = `id, name, description, api_key, secret_hash, allowed_origins, active, created_at, updated_at`

func scanService(row pgx.Row) (*model.Service, error) {
	var s model.Service
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.APIKey, &s.SecretHash, &s.AllowedOrigins, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a new service row.
func (r *ServiceRepo) Create(ctx context.Context, s *model.Service) error {
	const q = `
INSERT INTO services (id, name, description, api_key, secret_hash, allowed_origins, active)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.Name, s.Description, s.APIKey, s.SecretHash, s.AllowedOrigins, s.Active)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a service by ID.
func (r *ServiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	const q = `SELECT ` + serviceCols + ` FROM services WHERE id=$1`
	return scanService(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByAPIKey selects a service by its current API key.
func (r *ServiceRepo) GetByAPIKey(ctx context.Context, apiKey string) (*model.Service, error) {
	const q = `SELECT ` + serviceCols + ` FROM services WHERE api_key=$1`
	return scanService(r.db.Pool.QueryRow(ctx, q, apiKey))
}

// List returns all services ordered by creation time.
func (r *ServiceRepo) List(ctx context.Context) ([]model.Service, error) {
	const q = `SELECT ` + serviceCols + ` FROM services ORDER BY created_at, name`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Update applies non-nil patch fields; untouched columns keep their value.
func (r *ServiceRepo) Update(ctx context.Context, id uuid.UUID, p model.ServicePatch) (*model.Service, error) {
	const q = `
UPDATE services SET
  name            = COALESCE($2, name),
  description     = COALESCE($3, description),
  allowed_origins = COALESCE($4, allowed_origins),
  active          = COALESCE($5, active),
  updated_at      = now()
WHERE id = $1
RETURNING ` + serviceCols
	var origins any
	if p.AllowedOrigins != nil {
		o := *p.AllowedOrigins
		if o == nil {
			o = []string{}
		}
		origins = o
	}
	s, err := scanService(r.db.Pool.QueryRow(ctx, q, id, p.Name, p.Description, origins, p.Active))
	if isUniqueViolation(err) {
		return nil, errs.ErrAlreadyExists
	}
	return s, err
}

// RotateCredentials swaps key and secret hash atomically.
func (r *ServiceRepo) RotateCredentials(ctx context.Context, id uuid.UUID, apiKey string, secretHash []byte) error {
	const q = `
UPDATE services
SET api_key = $2, secret_hash = $3, updated_at = now()
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, apiKey, secretHash)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a service row.
func (r *ServiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM services WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
