package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/and161185/gatekeeper/internal/clock"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	pool pgxQuerier
	cfg  Config
	clk  clock.Clock
}

var _ Limiter = (*PG)(nil)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter over any pgx querier (*pgxpool.Pool in production).
func NewPG(q pgxQuerier, cfg Config, clk clock.Clock) *PG {
	if clk == nil {
		clk = clock.Real()
	}
	return &PG{pool: q, cfg: cfg, clk: clk}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

func normalize(login string) string { return strings.ToLower(strings.TrimSpace(login)) }

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE login=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, normalize(login), ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		now := l.clk.Now()
		if blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (login, ip).
func (l *PG) Success(ctx context.Context, login string, ipHash []byte) error {
	const q = `
INSERT INTO auth_limiter (login, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',$3)
ON CONFLICT (login, ip_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=$3`
	_, err := l.pool.Exec(ctx, q, normalize(login), ipHash, l.clk.Now())
	return err
}

// Failure records a failed attempt; reaching MaxFails inside Window blocks for BlockFor.
func (l *PG) Failure(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	now := l.clk.Now()
	key := normalize(login)

	const q = `
INSERT INTO auth_limiter (login, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',$4::timestamptz)
ON CONFLICT (login, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN $4::timestamptz - auth_limiter.updated_at > $3::interval THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = $4
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, key, ipHash, l.cfg.Window, now).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails >= l.cfg.MaxFails {
		const upd = `UPDATE auth_limiter SET blocked_until=$3 WHERE login=$1 AND ip_hash=$2`
		if _, err := l.pool.Exec(ctx, upd, key, ipHash, now.Add(l.cfg.BlockFor)); err != nil {
			return false, 0, err
		}
		return true, l.cfg.BlockFor, nil
	}
	return false, 0, nil
}
