// Package authority issues, verifies and revokes principal session tokens.
//
// Verification runs three mandatory checks in order: signature and expiry,
// denylist membership, then principal version. Any failure, including an
// unreachable store, is reported as errs.ErrInvalidCredential wrapping the
// concrete reason, which is only meant for logs and metrics.
package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/clock"
	"github.com/and161185/gatekeeper/internal/crypto"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/obs"
	"github.com/and161185/gatekeeper/internal/revocation"
	"github.com/and161185/gatekeeper/internal/token"
	"github.com/and161185/gatekeeper/internal/version"
)

// PrincipalLookup loads principals for rotation; repository.PrincipalRepository satisfies it.
type PrincipalLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error)
}

// Deps collects the Authority's collaborators.
type Deps struct {
	Signer     *token.Signer
	Denylist   revocation.Store
	Versions   version.Registry
	Principals PrincipalLookup
	Clock      clock.Clock
	Log        *zap.Logger
	Metrics    *obs.Metrics
}

// Authority holds no mutable state; consistency lives in the stores.
type Authority struct {
	signer     *token.Signer
	denylist   revocation.Store
	versions   version.Registry
	principals PrincipalLookup
	clk        clock.Clock
	log        *zap.Logger
	metrics    *obs.Metrics
}

// New constructs an Authority.
func New(d Deps) (*Authority, error) {
	if d.Signer == nil || d.Denylist == nil || d.Versions == nil || d.Principals == nil {
		return nil, errors.New("authority: signer, denylist, versions and principals are required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Authority{
		signer:     d.Signer,
		denylist:   d.Denylist,
		versions:   d.Versions,
		principals: d.Principals,
		clk:        d.Clock,
		log:        d.Log,
		metrics:    d.Metrics,
	}, nil
}

// Issue mints an access/refresh pair carrying the principal's current version.
// Unknown principals yield errs.ErrUnknownPrincipal.
func (a *Authority) Issue(ctx context.Context, p *model.Principal) (model.TokenPair, error) {
	ver, err := a.versions.Current(ctx, p.ID)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue: %w", err)
	}
	access, accessExp, err := a.signer.Sign(p.ID, ver, p.Roles, token.Access)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue: sign access: %w", err)
	}
	refresh, refreshExp, err := a.signer.Sign(p.ID, ver, p.Roles, token.Refresh)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue: sign refresh: %w", err)
	}
	a.metrics.Issued(string(token.Access))
	a.metrics.Issued(string(token.Refresh))
	return model.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token.
func (a *Authority) VerifyAccess(ctx context.Context, raw string) (*token.Claims, error) {
	return a.verify(ctx, raw, token.Access)
}

// VerifyRefresh validates a refresh token.
func (a *Authority) VerifyRefresh(ctx context.Context, raw string) (*token.Claims, error) {
	return a.verify(ctx, raw, token.Refresh)
}

func (a *Authority) verify(ctx context.Context, raw string, class token.Class) (*token.Claims, error) {
	claims, err := a.signer.Verify(raw, class)
	if err != nil {
		return nil, a.reject(raw, class, err)
	}
	hit, err := a.denylist.IsDenylisted(ctx, raw)
	if err != nil {
		return nil, a.reject(raw, class, err)
	}
	if hit {
		return nil, a.reject(raw, class, errs.ErrDenylisted)
	}
	id, _ := claims.PrincipalID()
	cur, err := a.versions.Current(ctx, id)
	if err != nil {
		return nil, a.reject(raw, class, err)
	}
	if cur != claims.Version {
		return nil, a.reject(raw, class, fmt.Errorf("%w: token=%d current=%d", errs.ErrVersionMismatch, claims.Version, cur))
	}
	a.metrics.Verification(string(class), "ok")
	return claims, nil
}

func (a *Authority) reject(raw string, class token.Class, reason error) error {
	label := errs.ReasonLabel(reason)
	a.metrics.Verification(string(class), label)
	fields := []zap.Field{
		zap.String("class", string(class)),
		zap.String("reason", label),
		zap.String("token", fingerprint(raw)),
		zap.Error(reason),
	}
	if errors.Is(reason, errs.ErrStorageUnavailable) {
		a.log.Warn("token rejected: store unavailable", fields...)
	} else {
		a.log.Debug("token rejected", fields...)
	}
	return fmt.Errorf("%w: %w", errs.ErrInvalidCredential, reason)
}

// Rotate consumes a refresh token and issues a fresh pair. The presented
// token is denylisted before anything is issued; if two callers race on the
// same token only the one that creates the denylist entry proceeds.
func (a *Authority) Rotate(ctx context.Context, refresh string) (model.TokenPair, error) {
	claims, err := a.VerifyRefresh(ctx, refresh)
	if err != nil {
		return model.TokenPair{}, err
	}
	ttl := a.remaining(claims)
	if ttl <= 0 {
		return model.TokenPair{}, a.reject(refresh, token.Refresh, errs.ErrExpired)
	}
	first, err := a.denylist.DenylistOnce(ctx, refresh, ttl)
	if err != nil {
		return model.TokenPair{}, a.reject(refresh, token.Refresh, err)
	}
	if !first {
		return model.TokenPair{}, a.reject(refresh, token.Refresh, errs.ErrDenylisted)
	}
	a.metrics.Revocation("rotate")

	id, _ := claims.PrincipalID()
	p, err := a.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			err = errs.ErrUnknownPrincipal
		}
		return model.TokenPair{}, a.reject(refresh, token.Refresh, err)
	}
	return a.Issue(ctx, p)
}

// RevokeSession denylists the refresh token and, when given and owned by the
// same principal, the access token. Expired tokens need no entry. Other
// sessions of the principal stay valid. A refresh token that fails
// verification is reported only after a verifiable access token has been
// revoked.
func (a *Authority) RevokeSession(ctx context.Context, refresh, access string) error {
	rc, refreshErr := a.signer.Verify(refresh, token.Refresh)
	if errors.Is(refreshErr, errs.ErrExpired) {
		refreshErr = nil
	}
	if refreshErr != nil {
		rc = nil
	}
	if rc != nil {
		if err := a.denylist.Denylist(ctx, refresh, a.remaining(rc)); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
	}

	if access != "" {
		ac, err := a.signer.Verify(access, token.Access)
		switch {
		case err != nil:
			a.log.Debug("logout: access token skipped", zap.String("token", fingerprint(access)), zap.Error(err))
		case rc != nil && ac.Subject != rc.Subject:
			a.log.Warn("logout: access token belongs to another principal",
				zap.String("refresh_sub", rc.Subject), zap.String("access_sub", ac.Subject))
		default:
			if err := a.denylist.Denylist(ctx, access, a.remaining(ac)); err != nil {
				return fmt.Errorf("revoke session: %w", err)
			}
		}
	}
	if refreshErr != nil {
		return a.reject(refresh, token.Refresh, refreshErr)
	}
	a.metrics.Revocation("session")
	return nil
}

// RevokeAllSessions bumps the principal's version so every earlier token fails.
func (a *Authority) RevokeAllSessions(ctx context.Context, principalID uuid.UUID) (int64, error) {
	v, err := a.versions.Bump(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	a.metrics.Revocation("all")
	a.log.Info("all sessions revoked", zap.String("principal", principalID.String()), zap.Int64("version", v))
	return v, nil
}

func (a *Authority) remaining(c *token.Claims) time.Duration {
	return c.ExpiresAt.Sub(a.clk.Now())
}

func fingerprint(raw string) string {
	return crypto.TokenFingerprint(raw)[:12]
}
