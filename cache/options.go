package cache

import (
	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/connector"
)

// Option 缓存组件选项函数
type Option func(*options)

type options struct {
	logger    clog.Logger
	redisConn connector.RedisConnector
}

// WithLogger 注入日志记录器，自动追加 "cache" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("cache")
		}
	}
}

// WithRedisConnector 注入 Redis 连接器 (仅用于 DriverRedis)
func WithRedisConnector(conn connector.RedisConnector) Option {
	return func(o *options) {
		o.redisConn = conn
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
