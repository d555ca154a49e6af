// Package service contains application services for principals, service
// identities and token validation.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/authority"
	"github.com/and161185/gatekeeper/internal/captcha"
	pkgcrypto "github.com/and161185/gatekeeper/internal/crypto"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/limiter"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/repository"
	"github.com/and161185/gatekeeper/internal/token"
)

// Input limits for registration and login.
const (
	MinUsernameLen = 3
	MinPasswordLen = 6
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RegisterInput carries registration form fields.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Captcha  string
	RemoteIP string
}

// LoginInput carries login form fields. Login is an email or a username.
type LoginInput struct {
	Login    string
	Password string
	Captcha  string
	RemoteIP string
}

// AuthService defines the principal-facing session operations.
type AuthService interface {
	// Register creates a principal with role "user" and opens its first session.
	Register(ctx context.Context, in RegisterInput) (model.TokenPair, *model.Principal, error)
	// Login applies rate limiting and authenticates by password.
	Login(ctx context.Context, in LoginInput) (model.TokenPair, *model.Principal, error)
	// Refresh rotates a refresh token into a fresh pair.
	Refresh(ctx context.Context, refresh string) (model.TokenPair, error)
	// Logout ends one session.
	Logout(ctx context.Context, refresh, access string) error
	// LogoutAll ends every session of the principal.
	LogoutAll(ctx context.Context, principalID uuid.UUID) error
	// Profile loads the principal behind a verified access token.
	Profile(ctx context.Context, principalID uuid.UUID) (*model.Principal, error)
	// VerifyAccess checks an access token.
	VerifyAccess(ctx context.Context, raw string) (*token.Claims, error)
}

type AuthServiceImpl struct {
	principals repository.PrincipalRepository
	auth       *authority.Authority
	lim        limiter.Limiter
	captcha    captcha.Verifier
	log        *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(principals repository.PrincipalRepository, auth *authority.Authority, lim limiter.Limiter, cv captcha.Verifier, log *zap.Logger) *AuthServiceImpl {
	if cv == nil {
		cv = captcha.Disabled{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{principals: principals, auth: auth, lim: lim, captcha: cv, log: log}
}

func validateRegistration(in RegisterInput) error {
	switch {
	case len(strings.TrimSpace(in.Username)) < MinUsernameLen:
		return fmt.Errorf("%w: username must be at least %d characters long", errs.ErrValidation, MinUsernameLen)
	case !emailRe.MatchString(in.Email):
		return fmt.Errorf("%w: please enter a valid email address", errs.ErrValidation)
	case len(in.Password) < MinPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters long", errs.ErrValidation, MinPasswordLen)
	}
	return nil
}

// Register creates a new principal record and issues its first token pair.
func (s *AuthServiceImpl) Register(ctx context.Context, in RegisterInput) (model.TokenPair, *model.Principal, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateRegistration(in); err != nil {
		return model.TokenPair{}, nil, err
	}
	if err := s.captcha.Verify(ctx, in.Captcha, in.RemoteIP); err != nil {
		return model.TokenPair{}, nil, err
	}

	taken, err := s.principals.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return model.TokenPair{}, nil, err
	}
	if taken {
		return model.TokenPair{}, nil, errs.ErrAlreadyExists
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.TokenPair{}, nil, err
	}
	hash, salt, err := pkgcrypto.NewPasswordHash(in.Password)
	if err != nil {
		return model.TokenPair{}, nil, err
	}
	p := &model.Principal{
		ID:       id,
		Username: in.Username,
		Email:    in.Email,
		PwdHash:  hash,
		SaltAuth: salt,
		Roles:    []string{model.RoleUser},
	}
	if err := s.principals.Create(ctx, p); err != nil {
		return model.TokenPair{}, nil, err
	}
	s.log.Info("principal registered", zap.String("principal", id.String()), zap.String("username", p.Username))

	pair, err := s.auth.Issue(ctx, p)
	if err != nil {
		return model.TokenPair{}, nil, err
	}
	return pair, p, nil
}

// Login authenticates with rate limiting by (login, ip).
func (s *AuthServiceImpl) Login(ctx context.Context, in LoginInput) (model.TokenPair, *model.Principal, error) {
	in.Login = normalizeLogin(in.Login)
	if in.Login == "" || in.Password == "" {
		return model.TokenPair{}, nil, fmt.Errorf("%w: login and password are required", errs.ErrValidation)
	}
	if err := s.captcha.Verify(ctx, in.Captcha, in.RemoteIP); err != nil {
		return model.TokenPair{}, nil, err
	}

	ipHash := limiter.HashIP(in.RemoteIP)
	allowed, _, err := s.lim.Allow(ctx, in.Login, ipHash)
	if err != nil {
		return model.TokenPair{}, nil, err
	}
	if !allowed {
		return model.TokenPair{}, nil, errs.ErrRateLimited
	}

	p, err := s.principals.GetByLogin(ctx, in.Login)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.TokenPair{}, nil, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(in.Password), p.SaltAuth, p.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, in.Login, ipHash); ferr == nil && blocked {
			return model.TokenPair{}, nil, errs.ErrRateLimited
		}
		// unknown login and wrong password look the same
		return model.TokenPair{}, nil, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, in.Login, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}

	pair, err := s.auth.Issue(ctx, p)
	if err != nil {
		return model.TokenPair{}, nil, err
	}
	return pair, p, nil
}

// normalizeLogin folds an email login to the case Register stores it in;
// usernames stay case-sensitive.
func normalizeLogin(login string) string {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return strings.ToLower(login)
	}
	return login
}

// Refresh rotates the presented refresh token.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refresh string) (model.TokenPair, error) {
	if strings.TrimSpace(refresh) == "" {
		return model.TokenPair{}, fmt.Errorf("%w: refresh token is required", errs.ErrValidation)
	}
	return s.auth.Rotate(ctx, refresh)
}

// Logout revokes the session named by the refresh token and the optional access token.
func (s *AuthServiceImpl) Logout(ctx context.Context, refresh, access string) error {
	if strings.TrimSpace(refresh) == "" {
		return fmt.Errorf("%w: refresh token is required", errs.ErrValidation)
	}
	return s.auth.RevokeSession(ctx, refresh, access)
}

// LogoutAll bumps the principal version.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, principalID uuid.UUID) error {
	_, err := s.auth.RevokeAllSessions(ctx, principalID)
	return err
}

// Profile returns the principal; secrets are left to the transport to strip.
func (s *AuthServiceImpl) Profile(ctx context.Context, principalID uuid.UUID) (*model.Principal, error) {
	return s.principals.GetByID(ctx, principalID)
}

// VerifyAccess delegates to the authority.
func (s *AuthServiceImpl) VerifyAccess(ctx context.Context, raw string) (*token.Claims, error) {
	return s.auth.VerifyAccess(ctx, raw)
}

