package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idemguard/testkit"
)

func newStandaloneLimiter(t *testing.T, clk *testkit.Clock, rate float64, burst int) Limiter {
	t.Helper()
	limiter, err := New(&Config{Enabled: true, Rate: rate, Burst: burst},
		WithLogger(testkit.NewLogger()), WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		opts    []Option
		wantErr error
		discard bool
	}{
		{name: "nil config", cfg: nil, wantErr: ErrConfigNil},
		{name: "disabled", cfg: &Config{}, discard: true},
		{name: "standalone defaults", cfg: &Config{Enabled: true}},
		{name: "negative rate", cfg: &Config{Enabled: true, Rate: -1}, wantErr: ErrInvalidLimit},
		{name: "redis without connector", cfg: &Config{Enabled: true, Driver: DriverRedis}, wantErr: ErrConnectorNil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := New(tt.cfg, tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer limiter.Close()
			if tt.discard {
				assert.Equal(t, Discard(), limiter)
				return
			}
			assert.Equal(t, Limit{Rate: 10, Burst: 20}, limiter.Limit())
		})
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(&Config{Enabled: true, Driver: "etcd"})
	assert.Error(t, err)
}

func TestDiscardAllowsEverything(t *testing.T) {
	l := Discard()
	for range 100 {
		allowed, err := l.Allow(context.Background(), "k", Limit{Rate: 1, Burst: 1})
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.False(t, l.Limit().Valid())
}

func TestArgumentValidation(t *testing.T) {
	limiter := newStandaloneLimiter(t, testkit.NewClock(time.Time{}), 1, 1)
	ctx := context.Background()

	tests := []struct {
		name  string
		key   string
		limit Limit
		n     int
		err   error
	}{
		{"empty key", "", Limit{Rate: 1, Burst: 1}, 1, ErrKeyEmpty},
		{"zero rate", "k", Limit{Burst: 1}, 1, ErrInvalidLimit},
		{"zero burst", "k", Limit{Rate: 1}, 1, ErrInvalidLimit},
		{"zero n", "k", Limit{Rate: 1, Burst: 1}, 0, ErrInvalidLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := limiter.AllowN(ctx, tt.key, tt.limit, tt.n)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
