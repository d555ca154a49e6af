package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestReasonLabel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: %w", ErrInvalidCredential, ErrExpired), "expired"},
		{fmt.Errorf("%w: %w", ErrInvalidCredential, ErrDenylisted), "denylisted"},
		{fmt.Errorf("%w: %w", ErrInvalidCredential, fmt.Errorf("redis: %w", ErrStorageUnavailable)), "storage_unavailable"},
		{ErrVersionMismatch, "version_mismatch"},
		{ErrInvalidCredential, "other"},
		{errors.New("x"), "other"},
	}
	for _, c := range cases {
		if got := ReasonLabel(c.err); got != c.want {
			t.Fatalf("ReasonLabel(%v)=%q, want %q", c.err, got, c.want)
		}
	}
}

func TestReason_NilOnUnrelated(t *testing.T) {
	t.Parallel()

	if Reason(ErrNotFound) != nil {
		t.Fatalf("unrelated error must not map to a verification reason")
	}
	if !errors.Is(Reason(fmt.Errorf("%w: %w", ErrInvalidCredential, ErrMalformed)), ErrMalformed) {
		t.Fatalf("want ErrMalformed")
	}
}
