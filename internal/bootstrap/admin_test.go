package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/gatekeeper/internal/crypto"
	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
)

type fakePrincipals struct {
	created   []*model.Principal
	exists    bool
	existsErr error
	createErr error
}

func (f *fakePrincipals) Create(_ context.Context, p *model.Principal) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, p)
	return nil
}
func (f *fakePrincipals) GetByID(context.Context, uuid.UUID) (*model.Principal, error) {
	return nil, errs.ErrNotFound
}
func (f *fakePrincipals) GetByLogin(context.Context, string) (*model.Principal, error) {
	return nil, errs.ErrNotFound
}
func (f *fakePrincipals) ExistsByUsernameOrEmail(context.Context, string, string) (bool, error) {
	return f.exists, f.existsErr
}
func (f *fakePrincipals) GetVersion(context.Context, uuid.UUID) (int64, error) { return 0, nil }
func (f *fakePrincipals) IncrementVersion(context.Context, uuid.UUID) (int64, error) {
	return 1, nil
}

func TestEnsureAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	admin := Admin{Username: "admin", Email: " Admin@Example.com ", Password: "s3cret!"}

	t.Run("disabled without password", func(t *testing.T) {
		f := &fakePrincipals{}
		created, err := EnsureAdmin(ctx, f, Admin{Username: "admin", Email: "a@b.io"}, log)
		require.NoError(t, err)
		require.False(t, created)
		require.Empty(t, f.created)
	})

	t.Run("creates admin with both roles", func(t *testing.T) {
		f := &fakePrincipals{}
		created, err := EnsureAdmin(ctx, f, admin, log)
		require.NoError(t, err)
		require.True(t, created)
		require.Len(t, f.created, 1)
		p := f.created[0]
		require.Equal(t, "admin@example.com", p.Email)
		require.True(t, p.HasRole(model.RoleAdmin))
		require.True(t, p.HasRole(model.RoleUser))
		require.True(t, pkgcrypto.VerifyPassword([]byte("s3cret!"), p.SaltAuth, p.PwdHash))
	})

	t.Run("idempotent when present", func(t *testing.T) {
		f := &fakePrincipals{exists: true}
		created, err := EnsureAdmin(ctx, f, admin, log)
		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("lost race is not an error", func(t *testing.T) {
		f := &fakePrincipals{createErr: errs.ErrAlreadyExists}
		created, err := EnsureAdmin(ctx, f, admin, log)
		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("storage errors propagate", func(t *testing.T) {
		f := &fakePrincipals{existsErr: errors.New("db down")}
		_, err := EnsureAdmin(ctx, f, admin, log)
		require.Error(t, err)
	})

	t.Run("missing email", func(t *testing.T) {
		_, err := EnsureAdmin(ctx, &fakePrincipals{}, Admin{Username: "admin", Password: "x"}, log)
		require.ErrorIs(t, err, errs.ErrValidation)
	})
}
