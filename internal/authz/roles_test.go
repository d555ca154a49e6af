package authz

import "testing"

func TestHasAnyRole(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		have     []string
		required []string
		want     bool
	}{
		{"match one", []string{"user"}, []string{"admin", "user"}, true},
		{"match several", []string{"user", "admin"}, []string{"admin"}, true},
		{"disjoint", []string{"user"}, []string{"admin"}, false},
		{"no roles", nil, []string{"user"}, false},
		{"nothing required", []string{"user"}, nil, false},
		{"case sensitive", []string{"Admin"}, []string{"admin"}, false},
	}
	for _, c := range cases {
		if got := HasAnyRole(c.have, c.required); got != c.want {
			t.Fatalf("%s: HasAnyRole(%v, %v)=%v, want %v", c.name, c.have, c.required, got, c.want)
		}
	}
}
