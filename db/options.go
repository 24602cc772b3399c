package db

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/idemguard/clog"
)

// Option 配置 DB 实例的选项
type Option func(*options)

type options struct {
	logger clog.Logger
	tracer trace.TracerProvider
}

// WithLogger 注入日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("db")
		}
	}
}

// WithTracer 注入 TracerProvider，开启 otelgorm 链路追踪
func WithTracer(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}
