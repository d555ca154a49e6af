package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/errs"
)

// DefaultTimeout bounds a single store call.
const DefaultTimeout = 250 * time.Millisecond

// Guard bounds every call to the underlying Store and maps failures to
// errs.ErrStorageUnavailable. Reads and idempotent writes get one retry;
// writes are detached from caller cancellation.
type Guard struct {
	next    Store
	timeout time.Duration
	log     *zap.Logger
}

var _ Store = (*Guard)(nil)

// NewGuard wraps next. A non-positive timeout falls back to DefaultTimeout.
func NewGuard(next Store, timeout time.Duration, log *zap.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{next: next, timeout: timeout, log: log}
}

// Denylist writes even if the caller's context is cancelled.
func (g *Guard) Denylist(ctx context.Context, raw string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	base := context.WithoutCancel(ctx)
	return g.retry(base, "denylist", func(c context.Context) error {
		return g.next.Denylist(c, raw, ttl)
	})
}

// DenylistOnce is not retried: a lost reply would make the retry observe its own write.
func (g *Guard) DenylistOnce(ctx context.Context, raw string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	base := context.WithoutCancel(ctx)
	var first bool
	err := g.call(base, func(c context.Context) error {
		var err error
		first, err = g.next.DenylistOnce(c, raw, ttl)
		return err
	})
	if err != nil {
		g.log.Warn("revocation store write failed", zap.String("op", "denylist_once"), zap.Error(err))
		return false, fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
	return first, nil
}

// IsDenylisted reads with one retry on failure.
func (g *Guard) IsDenylisted(ctx context.Context, raw string) (bool, error) {
	var hit bool
	err := g.retry(ctx, "is_denylisted", func(c context.Context) error {
		var err error
		hit, err = g.next.IsDenylisted(c, raw)
		return err
	})
	if err != nil {
		return false, err
	}
	return hit, nil
}

func (g *Guard) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = g.call(ctx, fn); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	g.log.Warn("revocation store call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
}

// call runs fn under the timeout and returns once the deadline passes even
// if fn ignores its context.
func (g *Guard) call(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(c) }()

	select {
	case err := <-done:
		return err
	case <-c.Done():
		if errors.Is(c.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timeout after %s", g.timeout)
		}
		return c.Err()
	}
}
