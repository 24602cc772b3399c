package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/idemguard/clog"
)

// bucket 令牌桶及其最后访问时间
type bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// standaloneLimiter 进程内限流器
type standaloneLimiter struct {
	limit   Limit
	logger  clog.Logger
	inst    *instruments
	now     func() time.Time
	buckets sync.Map // map[string]*bucket
	stopCh  chan struct{}
	once    sync.Once
}

func newStandalone(cfg *Config, o *options, inst *instruments) *standaloneLimiter {
	l := &standaloneLimiter{
		limit:  Limit{Rate: cfg.Rate, Burst: cfg.Burst},
		logger: o.logger,
		inst:   inst,
		now:    o.now,
		stopCh: make(chan struct{}),
	}
	go l.cleanupLoop(cfg.CleanupInterval, cfg.IdleTimeout)
	return l
}

func (l *standaloneLimiter) Limit() Limit {
	return l.limit
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *standaloneLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if err := checkArgs(key, limit, n); err != nil {
		return false, err
	}

	b := l.bucket(key, limit)
	now := l.now()
	b.mu.Lock()
	allowed := b.limiter.AllowN(now, n)
	b.lastSeen = now
	b.mu.Unlock()

	l.inst.observe(ctx, DriverStandalone, allowed, nil)
	if !allowed {
		l.logger.DebugContext(ctx, "rate limit exceeded",
			clog.String("key", key),
			clog.Float64("rate", limit.Rate),
			clog.Int("burst", limit.Burst))
	}
	return allowed, nil
}

// bucket 获取或创建键对应的令牌桶，不同规则使用不同的桶
func (l *standaloneLimiter) bucket(key string, limit Limit) *bucket {
	cacheKey := fmt.Sprintf("%s:%v:%d", key, limit.Rate, limit.Burst)
	if v, ok := l.buckets.Load(cacheKey); ok {
		return v.(*bucket)
	}
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst),
		lastSeen: l.now(),
	}
	actual, _ := l.buckets.LoadOrStore(cacheKey, b)
	return actual.(*bucket)
}

func (l *standaloneLimiter) cleanupLoop(interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.cleanup(idleTimeout); n > 0 {
				l.logger.Debug("cleaned up idle buckets", clog.Int("count", n))
			}
		case <-l.stopCh:
			return
		}
	}
}

// cleanup 回收空闲超过 idleTimeout 的令牌桶，返回回收数量
func (l *standaloneLimiter) cleanup(idleTimeout time.Duration) int {
	now := l.now()
	count := 0
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastSeen)
		b.mu.Unlock()
		if idle > idleTimeout {
			l.buckets.Delete(key)
			count++
		}
		return true
	})
	return count
}

func (l *standaloneLimiter) Close() error {
	l.once.Do(func() { close(l.stopCh) })
	return nil
}
