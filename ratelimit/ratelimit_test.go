package ratelimit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-broker/internal/config"
	"github.com/jrsteele09/go-sso-broker/ratelimit"
)

func TestMemoryLimiterPerKey(t *testing.T) {
	l := ratelimit.NewMemoryLimiter()
	rule := ratelimit.Rule{Name: "register", Max: 5, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, rule, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, ok, "request %d", i)
	}
	ok, err := l.Allow(ctx, rule, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = l.Allow(ctx, rule, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, ratelimit.Rule{Name: "login", Max: 1, Window: time.Minute}, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryLimiterUnlimitedRule(t *testing.T) {
	l := ratelimit.NewMemoryLimiter()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), ratelimit.Rule{Name: "none"}, "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestMemoryLimiterPrune(t *testing.T) {
	l := ratelimit.NewMemoryLimiter()
	_, _ = l.Allow(context.Background(), ratelimit.Rule{Name: "a", Max: 1, Window: time.Minute}, "k")
	require.Equal(t, 0, l.Prune(time.Hour))
	require.Equal(t, 1, l.Prune(-time.Second))
}

func TestRuleFrom(t *testing.T) {
	r := ratelimit.RuleFrom("login", config.RateLimit{Max: 20, Window: 5 * time.Minute})
	require.Equal(t, ratelimit.Rule{Name: "login", Max: 20, Window: 5 * time.Minute}, r)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := ratelimit.NewRedisClient(addr, os.Getenv("REDIS_PASSWORD"))
	t.Cleanup(func() { _ = client.Close() })

	l := ratelimit.NewRedisLimiter(client)
	rule := ratelimit.Rule{Name: "test-" + uuid.NewString(), Max: 3, Window: time.Minute}
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, rule, "10.0.0.1")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	require.LessOrEqual(t, allowed, 3)
	require.GreaterOrEqual(t, allowed, 1)
}
