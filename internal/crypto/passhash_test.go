package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandBytes(t *testing.T) {
	t.Parallel()

	a, err := RandBytes(SaltLen)
	require.NoError(t, err)
	require.Len(t, a, SaltLen)

	b, err := RandBytes(SaltLen)
	require.NoError(t, err)
	require.False(t, bytes.Equal(a, b), "two draws must differ")
	require.NotEqual(t, make([]byte, SaltLen), a)
}

func TestHashPassword_Inputs(t *testing.T) {
	t.Parallel()

	base := HashPassword([]byte("s3cret-pass"), []byte("0123456789abcdef"))
	require.Len(t, base, int(argonKeyLen))

	cases := []struct {
		name     string
		password string
		salt     string
		same     bool
	}{
		{"same input", "s3cret-pass", "0123456789abcdef", true},
		{"other salt", "s3cret-pass", "fedcba9876543210", false},
		{"other password", "s3cret-pass!", "0123456789abcdef", false},
	}
	for _, tc := range cases {
		got := HashPassword([]byte(tc.password), []byte(tc.salt))
		require.Equal(t, tc.same, bytes.Equal(base, got), tc.name)
	}
}

func TestNewPasswordHash_Verify(t *testing.T) {
	t.Parallel()

	hash, salt, err := NewPasswordHash("correct horse")
	require.NoError(t, err)
	require.Len(t, salt, SaltLen)

	require.True(t, VerifyPassword([]byte("correct horse"), salt, hash))
	require.False(t, VerifyPassword([]byte("wrong horse"), salt, hash))
	require.False(t, VerifyPassword([]byte("correct horse"), []byte("other-salt-value"), hash))
	require.False(t, VerifyPassword(nil, salt, hash))
	require.False(t, VerifyPassword([]byte("correct horse"), salt, nil), "empty stored hash never verifies")

	again, salt2, err := NewPasswordHash("correct horse")
	require.NoError(t, err)
	require.NotEqual(t, salt, salt2)
	require.NotEqual(t, hash, again)
}
