package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idemguard/testkit"
)

// bucketBehaviour 两种驱动共用的令牌桶行为检查
func bucketBehaviour(t *testing.T, limiter Limiter, clk *testkit.Clock) {
	ctx := context.Background()
	limit := Limit{Rate: 1, Burst: 2}

	t.Run("burst then deny", func(t *testing.T) {
		for i := range 2 {
			allowed, err := limiter.Allow(ctx, "burst", limit)
			require.NoError(t, err)
			assert.True(t, allowed, "request %d within burst", i)
		}
		allowed, err := limiter.Allow(ctx, "burst", limit)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("refill over time", func(t *testing.T) {
		for range 2 {
			_, _ = limiter.Allow(ctx, "refill", limit)
		}
		allowed, _ := limiter.Allow(ctx, "refill", limit)
		assert.False(t, allowed)

		clk.Advance(time.Second)
		allowed, err := limiter.Allow(ctx, "refill", limit)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		one := Limit{Rate: 1, Burst: 1}
		allowed, _ := limiter.Allow(ctx, "a", one)
		assert.True(t, allowed)
		allowed, _ = limiter.Allow(ctx, "a", one)
		assert.False(t, allowed)
		allowed, _ = limiter.Allow(ctx, "b", one)
		assert.True(t, allowed)
	})

	t.Run("allowN beyond burst", func(t *testing.T) {
		allowed, err := limiter.AllowN(ctx, "bulk", limit, 3)
		require.NoError(t, err)
		assert.False(t, allowed)
		allowed, err = limiter.AllowN(ctx, "bulk", limit, 2)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestStandaloneBucket(t *testing.T) {
	clk := testkit.NewClock(time.Time{})
	bucketBehaviour(t, newStandaloneLimiter(t, clk, 1, 2), clk)
}

func TestStandaloneCleanup(t *testing.T) {
	clk := testkit.NewClock(time.Time{})
	limiter := newStandaloneLimiter(t, clk, 1, 1).(*standaloneLimiter)
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "idle", limiter.Limit())
	clk.Advance(time.Minute)
	_, _ = limiter.Allow(ctx, "active", limiter.Limit())

	assert.Equal(t, 1, limiter.cleanup(30*time.Second))
	assert.Equal(t, 0, limiter.cleanup(30*time.Second))

	allowed, err := limiter.Allow(ctx, "idle", limiter.Limit())
	require.NoError(t, err)
	assert.True(t, allowed, "recycled bucket starts full")
}

func TestStandaloneCloseIdempotent(t *testing.T) {
	limiter, err := New(&Config{Enabled: true})
	require.NoError(t, err)
	assert.NoError(t, limiter.Close())
	assert.NoError(t, limiter.Close())
}

func TestStandaloneMetrics(t *testing.T) {
	meter := testkit.NewMeter(t)
	clk := testkit.NewClock(time.Time{})
	limiter, err := New(&Config{Enabled: true, Rate: 1, Burst: 1}, WithMeter(meter), WithClock(clk.Now))
	require.NoError(t, err)
	defer limiter.Close()

	ctx := context.Background()
	_, _ = limiter.Allow(ctx, "m", limiter.Limit())
	_, _ = limiter.Allow(ctx, "m", limiter.Limit())

	body := scrape(t, meter)
	assert.Contains(t, body, `result="allowed"`)
	assert.Contains(t, body, `result="denied"`)
}
