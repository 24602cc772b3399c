package metrics

import "github.com/ceyewan/idemguard/clog"

// Option 配置 Meter 实例的选项函数类型
type Option func(*options)

type options struct {
	logger clog.Logger
	global bool
}

// WithLogger 注入日志记录器，自动添加 "metrics" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("metrics")
		}
	}
}

// WithGlobal 将创建的 MeterProvider 注册为 otel 全局 Provider，
// otelgin、otelgrpc 等 instrumentation 会通过全局 Provider 上报
func WithGlobal() Option {
	return func(o *options) {
		o.global = true
	}
}
