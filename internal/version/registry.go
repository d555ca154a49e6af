// Package version tracks the per-principal counter used for blanket session invalidation.
package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gatekeeper/internal/errs"
)

// Registry reads and bumps a principal's version.
type Registry interface {
	// Current returns the live version for id.
	Current(ctx context.Context, id uuid.UUID) (int64, error)
	// Bump atomically increments the version and returns the new value.
	Bump(ctx context.Context, id uuid.UUID) (int64, error)
}

// Source is the persistence the registry reads from; repository.PrincipalRepository satisfies it.
type Source interface {
	GetVersion(ctx context.Context, id uuid.UUID) (int64, error)
	IncrementVersion(ctx context.Context, id uuid.UUID) (int64, error)
}

// Store adapts a Source to Registry with a per-call timeout and error mapping:
// missing principals become errs.ErrUnknownPrincipal, anything else errs.ErrStorageUnavailable.
type Store struct {
	src     Source
	timeout time.Duration
}

var _ Registry = (*Store)(nil)

// NewStore wraps src. A non-positive timeout disables the bound.
func NewStore(src Source, timeout time.Duration) *Store {
	return &Store{src: src, timeout: timeout}
}

// Current reads the version.
func (s *Store) Current(ctx context.Context, id uuid.UUID) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	v, err := s.src.GetVersion(ctx, id)
	return v, mapErr(err)
}

// Bump increments the version. The write is not tied to caller cancellation.
func (s *Store) Bump(ctx context.Context, id uuid.UUID) (int64, error) {
	ctx, cancel := s.bound(context.WithoutCancel(ctx))
	defer cancel()
	v, err := s.src.IncrementVersion(ctx, id)
	return v, mapErr(err)
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrNotFound):
		return errs.ErrUnknownPrincipal
	default:
		return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
}
