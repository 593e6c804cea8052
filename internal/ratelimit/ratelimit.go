// Package ratelimit is the per-identifier minute-bucket limiter:
// a Redis INCR/EXPIRE counter keyed by caller identity (authenticated
// user id, falling back to client IP) and the current UTC minute. The
// limiter fails open — if Redis is unreachable, requests proceed,
// matching the explicit "fails open" contract.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
}

// Limiter enforces Cap requests per identifier per UTC minute.
type Limiter struct {
	rdb    *redis.Client
	cap    int
	logger *zap.Logger
}

func New(rdb *redis.Client, perMinuteCap int, logger *zap.Logger) *Limiter {
	return &Limiter{rdb: rdb, cap: perMinuteCap, logger: logger}
}

// Allow increments the identifier's bucket for the current minute and
// reports whether the request is within Cap. Any Redis failure is
// logged and treated as "allowed".
func (l *Limiter) Allow(ctx context.Context, identifier string) Decision {
	if l == nil || l.rdb == nil || l.cap <= 0 {
		return Decision{Allowed: true, Limit: l.capOrZero(), Remaining: l.capOrZero()}
	}

	key := bucketKey(identifier, time.Now().UTC())
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter backing store unreachable, failing open", zap.Error(err))
		return Decision{Allowed: true, Limit: l.cap, Remaining: l.cap}
	}
	if count == 1 {
		// First hit in this minute bucket; set the expiry once so the
		// key self-cleans even if a crash skips every later request.
		if err := l.rdb.Expire(ctx, key, 70*time.Second).Err(); err != nil {
			l.logger.Warn("rate limiter failed to set bucket expiry", zap.Error(err))
		}
	}

	remaining := l.cap - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= int64(l.cap), Limit: l.cap, Remaining: remaining}
}

func (l *Limiter) capOrZero() int {
	if l == nil {
		return 0
	}
	return l.cap
}

func bucketKey(identifier string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", identifier, now.Format("200601021504"))
}
