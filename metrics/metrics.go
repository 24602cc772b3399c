// Package metrics 为 idemguard 提供统一的指标收集能力。
// 基于 OpenTelemetry 构建，提供 Counter、Gauge、Histogram 三类指标，
// 并以 Prometheus 文本格式暴露，由调用方把 Handler 挂载到自己的 HTTP 路由上。
//
// 快速开始：
//
//	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "idemd"})
//	if err != nil {
//	    return err
//	}
//	defer meter.Shutdown(ctx)
//
//	counter, _ := meter.Counter("idem_requests_total", "Idempotent requests by outcome.")
//	counter.Inc(ctx, metrics.L("outcome", "executed"))
//
//	router.GET("/metrics", gin.WrapH(meter.Handler()))
package metrics

import (
	"context"
	"net/http"
)

// Label 指标标签
type Label struct {
	Key   string
	Value string
}

// L 创建标签的便捷函数
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// Counter 只增不减的累计值，例如请求数、错误数
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)
	// Add 将计数器增加指定值，负数会被忽略
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可任意变化的瞬时值，例如进行中的请求数
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 记录值的分布，例如请求耗时
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标的创建入口
type Meter interface {
	Counter(name, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 抓取端点；未启用时返回 404
	Handler() http.Handler

	// Shutdown 刷新并关闭底层 MeterProvider
	Shutdown(ctx context.Context) error
}

// MetricOption 单个指标的可选配置
type MetricOption func(*metricOptions)

type metricOptions struct {
	unit    string
	buckets []float64
}

// WithUnit 设置指标单位，例如 "s"、"By"
func WithUnit(unit string) MetricOption {
	return func(o *metricOptions) {
		o.unit = unit
	}
}

// WithBuckets 设置直方图的显式桶边界，仅对 Histogram 生效
func WithBuckets(buckets []float64) MetricOption {
	return func(o *metricOptions) {
		o.buckets = append([]float64(nil), buckets...)
	}
}

func applyMetricOptions(opts []MetricOption) metricOptions {
	var o metricOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
