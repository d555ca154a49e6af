// Package revocation records tokens that must be rejected before their natural expiry.
//
// Entries are keyed by the SHA-256 of the raw token and live exactly as long
// as the token's remaining lifetime, so the store drains on its own.
package revocation

import (
	"context"
	"time"

	"github.com/and161185/gatekeeper/internal/crypto"
)

// Store is a TTL-bounded denylist.
type Store interface {
	// Denylist records raw for ttl. A non-positive ttl is a no-op.
	Denylist(ctx context.Context, raw string, ttl time.Duration) error
	// DenylistOnce records raw for ttl and reports whether this call created
	// the entry. A second caller presenting the same token gets false.
	DenylistOnce(ctx context.Context, raw string, ttl time.Duration) (bool, error)
	// IsDenylisted reports whether raw is currently denylisted.
	IsDenylisted(ctx context.Context, raw string) (bool, error)
}

const keyPrefix = "denylist:"

// Key returns the storage key for raw. Raw tokens are never stored.
func Key(raw string) string { return keyPrefix + crypto.TokenFingerprint(raw) }
