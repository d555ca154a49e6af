package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/gatekeeper/internal/clock"
)

// DefaultSweepInterval is used by Run when no positive interval is given.
const DefaultSweepInterval = time.Minute

// Memory is an in-process Store for tests and single-node development.
// Expired entries are hidden on lookup and removed by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time // key -> expiry
	clk     clock.Clock
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real()
	}
	return &Memory{entries: make(map[string]time.Time), clk: clk}
}

// Denylist records raw until now+ttl.
func (m *Memory) Denylist(_ context.Context, raw string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	k := Key(raw)
	exp := m.clk.Now().Add(ttl)
	m.mu.Lock()
	if cur, ok := m.entries[k]; !ok || cur.Before(exp) {
		m.entries[k] = exp
	}
	m.mu.Unlock()
	return nil
}

// DenylistOnce records raw unless a live entry already exists.
func (m *Memory) DenylistOnce(_ context.Context, raw string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	k := Key(raw)
	now := m.clk.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.entries[k]; ok && now.Before(exp) {
		return false, nil
	}
	m.entries[k] = now.Add(ttl)
	return true, nil
}

// IsDenylisted reports whether a live entry exists for raw.
func (m *Memory) IsDenylisted(_ context.Context, raw string) (bool, error) {
	k := Key(raw)
	now := m.clk.Now()
	m.mu.RLock()
	exp, ok := m.entries[k]
	m.mu.RUnlock()
	return ok && now.Before(exp), nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.clk.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Run sweeps every interval until ctx is done. A non-positive interval falls
// back to DefaultSweepInterval.
func (m *Memory) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultSweepInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
