package idem

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/db"
	"github.com/ceyewan/idemguard/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// MiddlewareOption Gin 中间件选项函数
type MiddlewareOption func(*middlewareOptions)

// InterceptorOption gRPC 拦截器选项函数
type InterceptorOption func(*interceptorOptions)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	tracer    trace.TracerProvider
	database  db.DB
	redisConn connector.RedisConnector
	store     Store
	now       func() time.Time
}

type middlewareOptions struct {
	headerKey string // 默认 "Idempotency-Key"
}

type interceptorOptions struct {
	metadataKey string // 默认 "idempotency-key"
}

// WithLogger 设置 Logger，自动添加 "idem" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("idem")
		}
	}
}

// WithMeter 设置指标 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithTracerProvider 设置链路追踪 Provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp
		}
	}
}

// WithDB 注入数据库组件，DriverDatabase 必需
func WithDB(database db.DB) Option {
	return func(o *options) {
		if database != nil {
			o.database = database
		}
	}
}

// WithRedisConnector 注入 Redis 连接器，DriverRedis 必需
func WithRedisConnector(conn connector.RedisConnector) Option {
	return func(o *options) {
		if conn != nil {
			o.redisConn = conn
		}
	}
}

// WithStore 直接注入 Store，优先于 Driver 配置
func WithStore(store Store) Option {
	return func(o *options) {
		if store != nil {
			o.store = store
		}
	}
}

// WithClock 设置时间源，所有存储实现共用
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHeaderKey 设置 Gin 中间件读取幂等键的 HTTP 头，默认 "Idempotency-Key"
func WithHeaderKey(headerKey string) MiddlewareOption {
	return func(o *middlewareOptions) {
		if headerKey != "" {
			o.headerKey = headerKey
		}
	}
}

// WithMetadataKey 设置 gRPC 拦截器读取幂等键的 metadata 键，默认 "idempotency-key"
func WithMetadataKey(metadataKey string) InterceptorOption {
	return func(o *interceptorOptions) {
		if metadataKey != "" {
			o.metadataKey = metadataKey
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
