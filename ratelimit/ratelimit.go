// Package ratelimit 提供基于令牌桶的限流组件，支持单机和 Redis 两种模式。
//
// 单机模式基于 golang.org/x/time/rate，每个限流键持有独立的令牌桶，空闲桶定期回收；
// Redis 模式以 Lua 脚本在服务端原子地维护桶状态，多实例共享同一配额。
//
// ## 基本使用
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{Rate: 10, Burst: 20},
//	    ratelimit.WithLogger(logger), ratelimit.WithMeter(meter))
//	defer limiter.Close()
//
//	allowed, _ := limiter.Allow(ctx, "ip:10.0.0.1", limiter.Limit())
//
// ## Gin 中间件
//
//	r.Use(ratelimit.GinMiddleware(limiter))
//
// ## gRPC 拦截器
//
//	grpc.NewServer(grpc.ChainUnaryInterceptor(ratelimit.UnaryServerInterceptor(limiter)))
package ratelimit

import (
	"context"
	"time"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Limit 限流规则（令牌桶）
type Limit struct {
	Rate  float64 // 每秒生成的令牌数
	Burst int     // 桶容量，即突发请求上限
}

// Valid 规则是否可用
func (l Limit) Valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// Limiter 限流器核心接口
type Limiter interface {
	// Allow 尝试获取 1 个令牌，不阻塞
	// 返回的 error 只表示系统错误，被限流时为 (false, nil)
	Allow(ctx context.Context, key string, limit Limit) (bool, error)

	// AllowN 尝试获取 n 个令牌，不阻塞
	AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error)

	// Limit 返回配置中的默认规则
	Limit() Limit

	// Close 释放后台资源
	Close() error
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// DriverType 限流驱动类型
type DriverType string

const (
	// DriverStandalone 进程内令牌桶
	DriverStandalone DriverType = "standalone"
	// DriverRedis Redis 令牌桶，多实例共享配额
	DriverRedis DriverType = "redis"
)

// Config 限流组件配置
type Config struct {
	// Enabled 是否启用；未启用时 New 返回放行一切的 Discard 限流器
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`

	// Driver 驱动: "standalone" | "redis"（默认 "standalone"）
	Driver DriverType `mapstructure:"driver" json:"driver" yaml:"driver"`

	// Rate 默认每秒令牌数（默认 10）
	Rate float64 `mapstructure:"rate" json:"rate" yaml:"rate"`

	// Burst 默认桶容量（默认 20）
	Burst int `mapstructure:"burst" json:"burst" yaml:"burst"`

	// Prefix Redis 键前缀（默认 "ratelimit:"）
	Prefix string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`

	// CleanupInterval 单机模式清理空闲令牌桶的间隔（默认 1 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval" yaml:"cleanup_interval"`

	// IdleTimeout 单机模式令牌桶空闲多久后回收（默认 5 分钟）
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" yaml:"idle_timeout"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverStandalone
	}
	if c.Rate == 0 {
		c.Rate = 10
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
	if c.Prefix == "" {
		c.Prefix = "ratelimit:"
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if !(Limit{Rate: c.Rate, Burst: c.Burst}).Valid() {
		return ErrInvalidLimit
	}
	switch c.Driver {
	case DriverStandalone, DriverRedis:
		return nil
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "ratelimit: unsupported driver: %s", c.Driver)
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 按配置创建限流器
//
// DriverRedis 需要通过 WithRedisConnector 注入连接器。
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if !cfg.Enabled {
		return Discard(), nil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	inst, err := newInstruments(o.meter)
	if err != nil {
		return nil, err
	}

	o.logger.Info("creating rate limiter",
		clog.String("driver", string(cfg.Driver)),
		clog.Float64("rate", cfg.Rate),
		clog.Int("burst", cfg.Burst))

	switch cfg.Driver {
	case DriverRedis:
		if o.redisConn == nil {
			return nil, ErrConnectorNil
		}
		return newDistributed(cfg, o, inst), nil
	default:
		return newStandalone(cfg, o, inst), nil
	}
}

// Discard 返回放行一切请求的限流器
func Discard() Limiter {
	return discard{}
}

type discard struct{}

func (discard) Allow(context.Context, string, Limit) (bool, error)       { return true, nil }
func (discard) AllowN(context.Context, string, Limit, int) (bool, error) { return true, nil }
func (discard) Limit() Limit                                             { return Limit{} }
func (discard) Close() error                                             { return nil }

func checkArgs(key string, limit Limit, n int) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if !limit.Valid() {
		return ErrInvalidLimit
	}
	if n <= 0 {
		return xerrors.Wrap(ErrInvalidLimit, "ratelimit: n must be positive")
	}
	return nil
}
