// Package ratelimit bounds attempts per client IP on the brute-force sensitive routes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jrsteele09/go-sso-broker/internal/config"
)

// Rule allows Max requests per Window for one key.
type Rule struct {
	Name   string
	Max    int
	Window time.Duration
}

// RuleFrom names a configured limit.
func RuleFrom(name string, l config.RateLimit) Rule {
	return Rule{Name: name, Max: l.Max, Window: l.Window}
}

type Limiter interface {
	Allow(ctx context.Context, rule Rule, key string) (bool, error)
}

// MemoryLimiter keeps one token bucket per (rule, key) in process.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	nowFunc  func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{limiters: make(map[string]*entry), nowFunc: time.Now}
}

func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) (bool, error) {
	if rule.Max <= 0 || rule.Window <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	k := rule.Name + "|" + key
	e, ok := m.limiters[k]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Max)), rule.Max)}
		m.limiters[k] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// Prune drops buckets idle for longer than idle.
func (m *MemoryLimiter) Prune(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.nowFunc().Add(-idle)
	removed := 0
	for k, e := range m.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(m.limiters, k)
			removed++
		}
	}
	return removed
}

// RedisLimiter counts requests in fixed windows shared by every broker instance.
type RedisLimiter struct {
	client  redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit", nowFunc: time.Now}
}

// NewRedisClient opens a client for addr.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

func (r *RedisLimiter) Allow(ctx context.Context, rule Rule, key string) (bool, error) {
	if rule.Max <= 0 || rule.Window <= 0 {
		return true, nil
	}
	window := r.nowFunc().UnixNano() / int64(rule.Window)
	k := fmt.Sprintf("%s:%s:%s:%d", r.prefix, rule.Name, key, window)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, rule.Window)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "[RedisLimiter.Allow]")
	}
	return incr.Val() <= int64(rule.Max), nil
}
