// Package authz implements role-based authorization checks.
package authz

// HasAnyRole reports whether have and required share at least one role.
// An empty required set never matches.
func HasAnyRole(have, required []string) bool {
	if len(have) == 0 || len(required) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(have))
	for _, r := range have {
		set[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
