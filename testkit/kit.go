// Package testkit 提供测试共享的依赖构造：Logger、Meter、连接器、唯一 ID 与可控时钟。
package testkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
	Clock  *Clock
}

// NewKit 返回一个包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	t.Helper()
	return &Kit{
		Ctx:    context.Background(),
		Logger: NewLogger(),
		Meter:  NewMeter(t),
		Clock:  NewClock(time.Time{}),
	}
}

// NewLogger 返回一个用于测试的 logger，输出开发环境格式
func NewLogger() clog.Logger {
	logger, err := clog.New(clog.NewDevDefaultConfig("idemguard"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个启用的 meter，测试结束时关闭
func NewMeter(t *testing.T) metrics.Meter {
	t.Helper()
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "idemguard-test"})
	if err != nil {
		return metrics.Discard()
	}
	t.Cleanup(func() {
		_ = meter.Shutdown(context.Background())
	})
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回一个唯一的短 ID (UUID v4 前 8 位)，用于库名、键前缀等
func NewID() string {
	return uuid.New().String()[0:8]
}

// NewKey 返回一个合法的幂等键 (UUID v4)
func NewKey() string {
	return uuid.NewString()
}

// ============================================================================
// 可控时钟
// ============================================================================

// Clock 手动推进的时钟，Now 可作为存储层的时间源注入
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 以 start 为起点创建时钟，零值时使用固定的 UTC 整秒时间
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
	}
	return &Clock{now: start.UTC()}
}

// Now 返回当前时间
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 将时钟向前推进 d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set 将时钟设置为 t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}
