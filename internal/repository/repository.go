// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gatekeeper/internal/model"
)

// PrincipalRepository provides access to end-user principals and their version counter.
type PrincipalRepository interface {
	// Create inserts a new principal. Duplicate username or email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, p *model.Principal) error
	// GetByID loads a principal by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error)
	// GetByLogin loads a principal by username or email.
	GetByLogin(ctx context.Context, login string) (*model.Principal, error)
	// ExistsByUsernameOrEmail reports whether either attribute is taken.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	// GetVersion returns the current version counter.
	GetVersion(ctx context.Context, id uuid.UUID) (int64, error)
	// IncrementVersion atomically bumps the version counter and returns the new value.
	IncrementVersion(ctx context.Context, id uuid.UUID) (int64, error)
}

// ServiceRepository provides CRUD access for service identities.
type ServiceRepository interface {
	Create(ctx context.Context, s *model.Service) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Service, error)
	List(ctx context.Context) ([]model.Service, error)
	// Update applies a partial patch and returns the updated row.
	Update(ctx context.Context, id uuid.UUID, patch model.ServicePatch) (*model.Service, error)
	// RotateCredentials replaces API key and secret hash in a single statement.
	RotateCredentials(ctx context.Context, id uuid.UUID, apiKey string, secretHash []byte) error
	Delete(ctx context.Context, id uuid.UUID) error
}
