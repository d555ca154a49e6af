package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gatekeeper/internal/clock"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
)

func TestValidator_ValidateToken(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	principals := newFakePrincipals()
	auth := newAuthority(t, principals, clk)
	v := NewValidator(auth, principals, zaptest.NewLogger(t))
	ctx := context.Background()

	u := principals.add(t, "alice", "alice@example.com", "correct1", model.RoleUser)
	pair, err := auth.Issue(ctx, u)
	require.NoError(t, err)

	_, err = v.ValidateToken(ctx, "")
	require.ErrorIs(t, err, errs.ErrValidation)

	got, err := v.ValidateToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, ValidatedUser{ID: u.ID.String(), Username: "alice", Email: "alice@example.com", Roles: []string{"user"}}, got)

	_, err = v.ValidateToken(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, errs.ErrInvalidCredential)

	clk.Advance(16 * time.Minute)
	_, err = v.ValidateToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, errs.ErrInvalidCredential)
	require.ErrorIs(t, err, errs.ErrExpired)
}

func TestValidator_CheckRoles(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	principals := newFakePrincipals()
	auth := newAuthority(t, principals, clk)
	v := NewValidator(auth, principals, nil)
	ctx := context.Background()

	u := principals.add(t, "root", "root@example.com", "correct1", model.RoleUser, model.RoleAdmin)
	pair, err := auth.Issue(ctx, u)
	require.NoError(t, err)

	_, err = v.CheckRoles(ctx, pair.AccessToken, nil)
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = v.CheckRoles(ctx, "", []string{"admin"})
	require.ErrorIs(t, err, errs.ErrValidation)

	rc, err := v.CheckRoles(ctx, pair.AccessToken, []string{"auditor", "admin"})
	require.NoError(t, err)
	require.True(t, rc.HasRoles)
	require.ElementsMatch(t, []string{"user", "admin"}, rc.UserRoles)

	rc, err = v.CheckRoles(ctx, pair.AccessToken, []string{"auditor"})
	require.NoError(t, err)
	require.False(t, rc.HasRoles)

	_, err = v.CheckRoles(ctx, "garbage", []string{"admin"})
	require.ErrorIs(t, err, errs.ErrInvalidCredential)
}

func TestPublicUser_NeverNilRoles(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{}, PublicUser(&model.Principal{}).Roles)
}
