// Package ratelimit provides per-client request limiters for the public API.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key is allowed. An error means the decision
// could not be made; callers treat that as allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a sliding-window log shared by every instance: each request is a member of a
// per-key sorted set scored by its arrival time, and members older than the window are trimmed.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per window per key.
func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// Allow records the request and reports whether the key is within its limit.
// Rejected requests are recorded too, so a client that keeps hammering stays limited.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	k := l.prefix + key
	cutoff := now.Add(-l.window).UnixMicro()
	member, err := requestMember(now)
	if err != nil {
		return false, err
	}
	var card *redis.IntCmd
	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		p.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: member})
		card = p.ZCard(ctx, k)
		p.PExpire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return card.Val() <= int64(l.limit), nil
}

func requestMember(now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strconv.FormatInt(now.UnixMicro(), 10) + "-" + hex.EncodeToString(b), nil
}

// LocalLimiter is the per-process counterpart of RedisLimiter: a sliding-window log per key with the same
// accounting, so rejected requests count against the window too. Each key keeps at most limit timestamps,
// which is all the decision needs. Idle keys are dropped after idleTTL.
type LocalLimiter struct {
	limit   int
	window  time.Duration
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	logs      map[string]*requestLog
	lastSweep time.Time
}

type requestLog struct {
	at   []time.Time // oldest first, len <= limit
	seen time.Time
}

// NewLocalLimiter allows limit requests per window per key.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit < 1 {
		limit = 1
	}
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		idleTTL: 5 * time.Minute,
		now:     time.Now,
		logs:    make(map[string]*requestLog),
	}
}

// Allow records the request and reports whether fewer than limit requests for key arrived in the
// preceding window. It never returns an error.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, rl := range l.logs {
			if now.Sub(rl.seen) > l.idleTTL {
				delete(l.logs, k)
			}
		}
		l.lastSweep = now
	}
	rl, ok := l.logs[key]
	if !ok {
		rl = &requestLog{at: make([]time.Time, 0, l.limit)}
		l.logs[key] = rl
	}
	rl.seen = now

	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(rl.at) && !rl.at[drop].After(cutoff) {
		drop++
	}
	rl.at = rl.at[drop:]
	allowed := len(rl.at) < l.limit
	if !allowed {
		rl.at = rl.at[1:]
	}
	rl.at = append(rl.at, now)
	return allowed, nil
}

// Len returns the number of tracked keys.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}
