// Package bootstrap seeds the initial administrator principal.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/gatekeeper/internal/crypto"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/repository"
)

// Admin describes the administrator account to seed.
type Admin struct {
	Username string
	Email    string
	Password string
}

// EnsureAdmin creates the administrator when no principal with the same
// username or email exists. It reports whether a principal was created.
// An empty password disables seeding.
func EnsureAdmin(ctx context.Context, principals repository.PrincipalRepository, a Admin, log *zap.Logger) (bool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if a.Password == "" {
		log.Debug("admin bootstrap skipped: no password configured")
		return false, nil
	}
	a.Username = strings.TrimSpace(a.Username)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Username == "" || a.Email == "" {
		return false, fmt.Errorf("%w: admin username and email are required", errs.ErrValidation)
	}

	exists, err := principals.ExistsByUsernameOrEmail(ctx, a.Username, a.Email)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	if exists {
		return false, nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return false, err
	}
	hash, salt, err := pkgcrypto.NewPasswordHash(a.Password)
	if err != nil {
		return false, err
	}
	p := &model.Principal{
		ID:       id,
		Username: a.Username,
		Email:    a.Email,
		PwdHash:  hash,
		SaltAuth: salt,
		Roles:    []string{model.RoleUser, model.RoleAdmin},
	}
	if err := principals.Create(ctx, p); err != nil {
		// another replica won the race
		if errors.Is(err, errs.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Info("admin principal created", zap.String("principal", id.String()), zap.String("username", a.Username))
	return true, nil
}
