// Package cache 提供键值缓存组件，支持进程内 (otter) 与 Redis 两种驱动。
//
// 两种驱动都保存序列化后的字节，Get 得到的是独立副本，调用方修改结果不会影响缓存内容。
//
// 基本使用：
//
//	c, _ := cache.New(&cache.Config{Enabled: true, Driver: cache.DriverRedis, Serializer: "msgpack"},
//	    cache.WithRedisConnector(redisConn), cache.WithLogger(logger))
//
//	err := c.Set(ctx, "user:1001", user, time.Minute)
//
//	var cached User
//	if err := c.Get(ctx, "user:1001", &cached); errors.Is(err, cache.ErrMiss) {
//	    // 回源
//	}
package cache

import (
	"context"
	"time"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Cache 键值缓存
type Cache interface {
	// Set 写入 value，ttl <= 0 时使用配置的默认 TTL
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Get 读取到 dest，不存在时返回 ErrMiss
	Get(ctx context.Context, key string, dest any) error
	// Delete 删除一个或多个键，不存在的键被忽略
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// DriverType 缓存驱动类型
type DriverType string

const (
	// DriverStandalone 进程内缓存
	DriverStandalone DriverType = "standalone"
	// DriverRedis Redis 缓存，多实例共享
	DriverRedis DriverType = "redis"
)

// Config 缓存组件配置
type Config struct {
	// Enabled 为 false 时 New 返回 Discard()
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// Driver "standalone" | "redis"（默认 "standalone"）
	Driver DriverType `mapstructure:"driver" json:"driver" yaml:"driver"`
	// Prefix 键前缀（默认 "cache:"）
	Prefix string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	// TTL 默认过期时间（默认 5 分钟）
	TTL time.Duration `mapstructure:"ttl" json:"ttl" yaml:"ttl"`
	// Capacity 进程内缓存的最大条目数（默认 10000）
	Capacity int `mapstructure:"capacity" json:"capacity" yaml:"capacity"`
	// Serializer "json" | "msgpack"（默认 "msgpack"）
	Serializer string `mapstructure:"serializer" json:"serializer" yaml:"serializer"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverStandalone
	}
	if c.Prefix == "" {
		c.Prefix = "cache:"
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.Serializer == "" {
		c.Serializer = "msgpack"
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverStandalone, DriverRedis:
		return nil
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "cache: unsupported driver: %s", c.Driver)
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 按配置创建缓存
//
// DriverRedis 需要通过 WithRedisConnector 注入连接器。
func New(cfg *Config, opts ...Option) (Cache, error) {
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
	codec, err := newSerializer(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	o.logger.Info("creating cache",
		clog.String("driver", string(cfg.Driver)),
		clog.String("serializer", cfg.Serializer))

	switch cfg.Driver {
	case DriverRedis:
		if o.redisConn == nil {
			return nil, ErrConnectorNil
		}
		return newRedis(o.redisConn, cfg, codec), nil
	default:
		return newStandalone(cfg, codec)
	}
}

// Discard 返回永远未命中的缓存
func Discard() Cache {
	return discard{}
}

type discard struct{}

func (discard) Set(context.Context, string, any, time.Duration) error { return nil }
func (discard) Get(context.Context, string, any) error                { return ErrMiss }
func (discard) Delete(context.Context, ...string) error               { return nil }
func (discard) Close() error                                          { return nil }
