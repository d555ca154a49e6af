package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/authority"
	"github.com/and161185/gatekeeper/internal/authz"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/repository"
)

// ValidatedUser is the public view of a principal returned to services.
type ValidatedUser struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// RoleCheck is the outcome of a role query.
type RoleCheck struct {
	HasRoles  bool
	UserRoles []string
}

// Validator answers token questions on behalf of authenticated services.
type Validator interface {
	// ValidateToken verifies an access token and returns the principal behind it.
	ValidateToken(ctx context.Context, raw string) (ValidatedUser, error)
	// CheckRoles verifies an access token and reports whether it carries any of required.
	CheckRoles(ctx context.Context, raw string, required []string) (RoleCheck, error)
}

type ValidatorImpl struct {
	auth       *authority.Authority
	principals repository.PrincipalRepository
	log        *zap.Logger
}

// NewValidator constructs Validator.
func NewValidator(auth *authority.Authority, principals repository.PrincipalRepository, log *zap.Logger) *ValidatorImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &ValidatorImpl{auth: auth, principals: principals, log: log}
}

// PublicUser strips secrets from p.
func PublicUser(p *model.Principal) ValidatedUser {
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	return ValidatedUser{ID: p.ID.String(), Username: p.Username, Email: p.Email, Roles: roles}
}

// ValidateToken runs full verification; a principal deleted after issuance is
// reported as an invalid credential.
func (v *ValidatorImpl) ValidateToken(ctx context.Context, raw string) (ValidatedUser, error) {
	if strings.TrimSpace(raw) == "" {
		return ValidatedUser{}, fmt.Errorf("%w: token is required", errs.ErrValidation)
	}
	claims, err := v.auth.VerifyAccess(ctx, raw)
	if err != nil {
		return ValidatedUser{}, err
	}
	id, _ := claims.PrincipalID()
	p, err := v.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ValidatedUser{}, fmt.Errorf("%w: %w", errs.ErrInvalidCredential, errs.ErrUnknownPrincipal)
		}
		return ValidatedUser{}, err
	}
	return PublicUser(p), nil
}

// CheckRoles answers from the roles embedded in the verified token.
func (v *ValidatorImpl) CheckRoles(ctx context.Context, raw string, required []string) (RoleCheck, error) {
	if strings.TrimSpace(raw) == "" {
		return RoleCheck{}, fmt.Errorf("%w: token is required", errs.ErrValidation)
	}
	if len(required) == 0 {
		return RoleCheck{}, fmt.Errorf("%w: required roles must be a non-empty array", errs.ErrValidation)
	}
	claims, err := v.auth.VerifyAccess(ctx, raw)
	if err != nil {
		return RoleCheck{}, err
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return RoleCheck{HasRoles: authz.HasAnyRole(roles, required), UserRoles: roles}, nil
}
